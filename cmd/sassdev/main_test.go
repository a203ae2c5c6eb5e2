package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/sass"
)

// fakeSass echoes stdin as CSS and fails like Dart Sass on sources
// containing "ERR".
const fakeSass = `input=$(cat)
case "$input" in
*ERR*)
	echo 'Error: expected "}".' >&2
	echo '  - 1:8  root stylesheet' >&2
	exit 65
	;;
esac
printf '%s\n' "$input"
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake-sass"), []byte("#!/bin/sh\n"+fakeSass), 0o755))
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

const projectConfig = `sass:
  binary: ./fake-sass
log:
  level: error
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeSplit(t, args...)
	return out, err
}

func executeSplit(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Dart Sass:")
	assert.Contains(t, out, "Platform:   "+sass.PlatformName())
}

func TestBuildCommand(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"sassdev.yaml":        projectConfig,
		"docs/a.scss":         "body { color: red; }",
		"docs/_partial.scss":  "$c: red;",
		"docs/nested/b.scss":  "p { margin: 0; }",
		"eq-sass.scss":        ".eq { width: 1px; }",
		"node_modules/x.scss": "ignored {}",
	})

	out, err := execute(t, "build", "--config", filepath.Join(dir, "sassdev.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Build complete")
	assert.Contains(t, out, "docs/a.scss → docs/a.css")

	for name, want := range map[string]string{
		"docs/a.css":        "body { color: red; }\n",
		"docs/nested/b.css": "p { margin: 0; }\n",
		"eq-sass.css":       ".eq { width: 1px; }\n",
	} {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(data), name)
	}
	assert.NoFileExists(t, filepath.Join(dir, "docs", "_partial.css"))

	// Nothing changed, so nothing is written the second time.
	out, err = execute(t, "build", "--config", filepath.Join(dir, "sassdev.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, out, "→")
}

func TestBuildCommand_Failures(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"sassdev.yaml": projectConfig,
		"docs/a.scss":  "body { ERR",
		"docs/b.scss":  "p { margin: 0; }",
	})
	cfgPath := filepath.Join(dir, "sassdev.yaml")

	out, errOut, err := executeSplit(t, "build", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, errOut, "E201")
	assert.Contains(t, errOut, `expected "}"`)
	assert.NotContains(t, out, "E201")
	assert.FileExists(t, filepath.Join(dir, "docs", "b.css"))
	assert.NoFileExists(t, filepath.Join(dir, "docs", "a.css"))

	_, err = execute(t, "build", "--strict", "--config", cfgPath)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, "E201"))
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("E102")))
	assert.Equal(t, 1, exitCode(fmt.Errorf("unknown flag")))
	assert.Equal(t, 2, exitCode(errors.New("E201")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("build: %w", errors.New("E201"))))
}

func TestBuildCommand_MissingSass(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"sassdev.yaml": "sass:\n  binary: ./does-not-exist\n",
	})

	_, err := execute(t, "build", "--config", filepath.Join(dir, "sassdev.yaml"))
	assert.True(t, errors.HasCode(err, "E202"), "got %v", err)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"sassdev.yaml": "dev:\n  port: 4000\n  root: site\n",
	})

	root := newRootCmd()
	devCommand, _, err := root.Find([]string{"dev"})
	require.NoError(t, err)
	require.NoError(t, devCommand.ParseFlags([]string{
		"--config", filepath.Join(dir, "sassdev.yaml"),
		"--port", "5000",
		"--log-level", "debug",
	}))

	cfg, err := loadConfig(devCommand)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Dev.Port)
	assert.Equal(t, "site", cfg.Dev.Root)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, dir, cfg.Dir())
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"sassdev.yaml": "dev:\n  port: 70000\n",
	})

	_, err := execute(t, "build", "--config", filepath.Join(dir, "sassdev.yaml"))
	assert.True(t, errors.HasCode(err, "E102"), "got %v", err)
}
