// Package sass manages and runs the Dart Sass standalone compiler.
// It handles downloading, caching, and invoking the release without
// requiring Node.js.
package sass

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/sassdev/internal/errors"
)

const (
	// Version is the Dart Sass release installed by default.
	Version = "1.83.4"

	// GitHubReleaseURL is the base URL for downloading Dart Sass releases.
	GitHubReleaseURL = "https://github.com/sass/dart-sass/releases/download"

	// DefaultBinDir is the default install directory, relative to $HOME.
	DefaultBinDir = ".sassdev/bin"
)

// Binary locates the sass executable, installing it on demand.
//
// Resolution order: Explicit, then "sass" on PATH when UsePath is set, then
// the per-version cache under BinDir, then a download when AutoInstall is set.
type Binary struct {
	// Version is the Dart Sass release.
	Version string

	// BinDir is the directory releases are unpacked into.
	BinDir string

	// DownloadBaseURL is the base URL for release archives.
	// If empty, GitHubReleaseURL is used.
	DownloadBaseURL string

	// HTTPClient is used for downloads. If nil, a default client is used.
	HTTPClient *http.Client

	// Explicit is a user-supplied executable path that bypasses lookup.
	Explicit string

	// UsePath allows an executable found on PATH.
	UsePath bool

	// AutoInstall downloads the release when it is not cached.
	AutoInstall bool

	// Progress receives human readable install progress. Optional.
	Progress func(msg string)

	lookPath func(file string) (string, error)
	goos     string
	goarch   string

	path string
	mu   sync.Mutex
}

// NewBinary creates a new Binary with default settings.
func NewBinary() *Binary {
	return &Binary{
		Version:         Version,
		BinDir:          defaultBinDir(),
		DownloadBaseURL: GitHubReleaseURL,
		UsePath:         true,
		AutoInstall:     true,
	}
}

// defaultBinDir returns the default binary directory (~/.sassdev/bin).
func defaultBinDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultBinDir)
	}
	return filepath.Join(home, DefaultBinDir)
}

// Path returns the sass executable, resolving and caching it on first use.
func (b *Binary) Path(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path != "" {
		return b.path, nil
	}

	if b.Explicit != "" {
		if _, err := os.Stat(b.Explicit); err != nil {
			return "", errors.New("E202").
				WithDetail("sass.binary points at " + b.Explicit + ", which does not exist").
				Wrap(err)
		}
		b.path = b.Explicit
		return b.path, nil
	}

	if b.UsePath {
		lookPath := b.lookPath
		if lookPath == nil {
			lookPath = exec.LookPath
		}
		if p, err := lookPath("sass"); err == nil {
			b.path = p
			return p, nil
		}
	}

	path := b.binaryPath()
	if _, err := os.Stat(path); err == nil {
		b.path = path
		return path, nil
	}

	if !b.AutoInstall {
		return "", errors.New("E202").
			WithDetail(fmt.Sprintf("Dart Sass %s is not installed at %s", b.version(), path))
	}

	if err := b.download(ctx); err != nil {
		return "", err
	}
	b.path = path
	return path, nil
}

// EnsureInstalled downloads the release into BinDir if it is not cached,
// ignoring Explicit and PATH. Returns the path to the executable.
func (b *Binary) EnsureInstalled(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.binaryPath()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := b.download(ctx); err != nil {
		return "", err
	}
	return path, nil
}

// IsInstalled checks if the release is present in BinDir.
func (b *Binary) IsInstalled() bool {
	_, err := os.Stat(b.binaryPath())
	return err == nil
}

func (b *Binary) version() string {
	v := strings.TrimPrefix(b.Version, "v")
	if v == "" {
		return Version
	}
	return v
}

func (b *Binary) platform() (string, string) {
	goos, goarch := b.goos, b.goarch
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return goos, goarch
}

// versionDir is where one release is unpacked. Per-version so upgrades
// don't silently keep using an older compiler.
func (b *Binary) versionDir() string {
	return filepath.Join(b.BinDir, b.version())
}

// binaryPath returns the path of the executable inside the unpacked release.
func (b *Binary) binaryPath() string {
	goos, _ := b.platform()
	return filepath.Join(b.versionDir(), "dart-sass", executableName(goos))
}

// downloadURL returns the URL of the release archive.
func (b *Binary) downloadURL() (string, error) {
	goos, goarch := b.platform()
	asset, err := assetName(b.version(), goos, goarch)
	if err != nil {
		return "", err
	}
	base := b.DownloadBaseURL
	if base == "" {
		base = GitHubReleaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), b.version(), asset), nil
}

func (b *Binary) progress(format string, args ...any) {
	if b.Progress != nil {
		b.Progress(fmt.Sprintf(format, args...))
	}
}

// download fetches and unpacks the release archive. The archive is unpacked
// into a temporary sibling directory that is renamed into place.
func (b *Binary) download(ctx context.Context) error {
	url, err := b.downloadURL()
	if err != nil {
		return errors.New("E203").Wrap(err)
	}

	b.progress("Downloading Dart Sass %s...", b.version())

	if err := os.MkdirAll(b.BinDir, 0o755); err != nil {
		return errors.New("E203").WithDetail("failed to create bin directory").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New("E203").Wrap(err)
	}

	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.New("E203").WithDetail("URL: " + url).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("E203").
			WithDetail(fmt.Sprintf("download failed with status %d (URL: %s)", resp.StatusCode, url))
	}

	archive, err := os.CreateTemp(b.BinDir, ".download-*")
	if err != nil {
		return errors.New("E203").Wrap(err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	written, err := io.Copy(archive, resp.Body)
	if err != nil {
		return errors.New("E203").WithDetail("failed to write archive").Wrap(err)
	}
	b.progress("Downloaded %.1f MB", float64(written)/1024/1024)

	tmpDir, err := os.MkdirTemp(b.BinDir, ".unpack-*")
	if err != nil {
		return errors.New("E203").Wrap(err)
	}
	defer os.RemoveAll(tmpDir)

	if strings.HasSuffix(url, ".zip") {
		err = extractZip(archive, written, tmpDir)
	} else {
		if _, err = archive.Seek(0, io.SeekStart); err == nil {
			err = extractTarGz(archive, tmpDir)
		}
	}
	if err != nil {
		return errors.New("E203").WithDetail("failed to unpack " + url).Wrap(err)
	}

	goos, _ := b.platform()
	if _, err := os.Stat(filepath.Join(tmpDir, "dart-sass", executableName(goos))); err != nil {
		return errors.New("E203").
			WithDetail("archive does not contain dart-sass/" + executableName(goos)).
			Wrap(err)
	}

	// A leftover directory without an executable is an interrupted install.
	_ = os.RemoveAll(b.versionDir())
	if err := os.Rename(tmpDir, b.versionDir()); err != nil {
		return errors.New("E203").WithDetail("failed to install release").Wrap(err)
	}

	b.progress("Installed to %s", b.binaryPath())
	return nil
}
