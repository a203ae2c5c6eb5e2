package sass

import (
	"fmt"
	"runtime"

	"github.com/vango-dev/sassdev/internal/errors"
)

// assetName returns the release archive name for a platform, e.g.
// dart-sass-1.83.4-linux-x64.tar.gz.
func assetName(version, goos, goarch string) (string, error) {
	var osName string
	switch goos {
	case "linux":
		osName = "linux"
	case "darwin":
		osName = "macos"
	case "windows":
		osName = "windows"
	default:
		return "", errors.Newf(errors.CategoryToolchain, "no Dart Sass release for %s/%s", goos, goarch)
	}

	var arch string
	switch goarch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "arm64"
	case "386":
		arch = "ia32"
	case "arm":
		arch = "arm"
	default:
		return "", errors.Newf(errors.CategoryToolchain, "no Dart Sass release for %s/%s", goos, goarch)
	}

	ext := ".tar.gz"
	if goos == "windows" {
		ext = ".zip"
	}
	return fmt.Sprintf("dart-sass-%s-%s-%s%s", version, osName, arch, ext), nil
}

// executableName is the launcher inside the release's dart-sass directory.
func executableName(goos string) string {
	if goos == "windows" {
		return "sass.bat"
	}
	return "sass"
}

func archName() string {
	switch runtime.GOARCH {
	case "arm64":
		return "ARM64"
	case "amd64":
		return "x64"
	default:
		return runtime.GOARCH
	}
}

// PlatformName returns a human readable platform, e.g. "Linux x64".
func PlatformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS " + archName()
	case "linux":
		return "Linux " + archName()
	case "windows":
		return "Windows " + archName()
	default:
		return runtime.GOOS + " " + archName()
	}
}
