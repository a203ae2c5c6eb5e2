package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vango-dev/sassdev/internal/config"
	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/metrics"
	"github.com/vango-dev/sassdev/internal/sass"
)

// fakeSass echoes the source back as CSS and fails on sources containing
// "ERR", like a syntax error.
func fakeSass(ctx context.Context, req sass.Request) ([]byte, error) {
	if bytes.Contains(req.Source, []byte("ERR")) {
		return nil, errors.New("E201").
			WithDetail("Error: expected \"}\".")
	}
	return []byte("/* " + req.Style + " */\n" + string(req.Source)), nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func mustPass(t *testing.T, pc config.PassConfig) Pass {
	t.Helper()
	if pc.Style == "" {
		pc.Style = sass.StyleExpanded
	}
	p, err := NewPass(pc)
	require.NoError(t, err)
	return p
}

func docsPass(t *testing.T) Pass {
	return mustPass(t, config.PassConfig{Name: "docs", Source: "docs/**/*.scss", Dest: "docs", Reload: true})
}

func TestOutputPath(t *testing.T) {
	docs := docsPass(t)
	assert.Equal(t, "docs/a.css", docs.OutputPath("docs/a.scss"))
	assert.Equal(t, "docs/sub/b.css", docs.OutputPath("docs/sub/b.scss"))

	root := mustPass(t, config.PassConfig{Name: "root", Source: "eq-sass.scss", Dest: "."})
	assert.Equal(t, "eq-sass.css", root.OutputPath("eq-sass.scss"))

	out := mustPass(t, config.PassConfig{Name: "out", Source: "styles/**/*.sass", Dest: "public/css"})
	assert.Equal(t, "public/css/x/y.css", out.OutputPath("styles/x/y.sass"))

	flat := mustPass(t, config.PassConfig{Name: "flat", Source: "*.scss", Dest: "build"})
	assert.Equal(t, "build/a.css", flat.OutputPath("a.scss"))
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial("docs/_vars.scss"))
	assert.True(t, IsPartial("_mixins.scss"))
	assert.False(t, IsPartial("docs/a.scss"))
	assert.False(t, IsPartial("docs_x/a.scss"))
}

func TestNewPass_Invalid(t *testing.T) {
	_, err := NewPass(config.PassConfig{Name: "bad", Source: "docs/[x"})
	assert.True(t, errors.HasCode(err, "E103"))

	_, err = NewPass(config.PassConfig{Name: "bad", Source: "a.scss", Targets: []string{"mosaic1"}})
	assert.True(t, errors.HasCode(err, "E102"))
}

func TestPassesFromConfig(t *testing.T) {
	passes, err := PassesFromConfig(config.New())
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "docs", passes[0].Name)
	assert.True(t, passes[0].Reload)
	assert.Equal(t, "root", passes[1].Name)
	assert.False(t, passes[1].Reload)
}

func TestRun_CompilesAndPreservesStructure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "body { color: red; }")
	writeFile(t, root, "docs/sub/b.scss", "p { margin: 0; }")
	writeFile(t, root, "docs/_vars.scss", "$x: 1;")
	writeFile(t, root, "docs/readme.md", "not a stylesheet")

	c := New(root, TranspilerFunc(fakeSass))
	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, "docs", res.Pass)
	assert.True(t, res.Reload)
	assert.Equal(t, []string{"docs/_vars.scss"}, res.Skipped)
	assert.Equal(t, []Output{
		{Source: "docs/a.scss", Path: "docs/a.css", Changed: true},
		{Source: "docs/sub/b.scss", Path: "docs/sub/b.css", Changed: true},
	}, res.Outputs)

	assert.Equal(t, "/* expanded */\nbody { color: red; }", readFile(t, root, "docs/a.css"))
	assert.Equal(t, "/* expanded */\np { margin: 0; }", readFile(t, root, "docs/sub/b.css"))
	assert.NoFileExists(t, filepath.Join(root, "docs", "_vars.css"))
}

func TestRun_SecondRunIsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "body { color: red; }")

	c := New(root, TranspilerFunc(fakeSass))
	_, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)

	out := filepath.Join(root, "docs", "a.css")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(out, past, past))
	first := readFile(t, root, "docs/a.css")

	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.False(t, res.Outputs[0].Changed)
	assert.Empty(t, res.Written())
	assert.Len(t, res.Unchanged(), 1)

	assert.Equal(t, first, readFile(t, root, "docs/a.css"))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.WithinDuration(t, past, info.ModTime(), time.Second, "unchanged output is not rewritten")
}

func TestRun_EditUpdatesOutput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "body { color: red; }")

	c := New(root, TranspilerFunc(fakeSass))
	_, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)

	writeFile(t, root, "docs/a.scss", "body { color: blue; }")
	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)
	require.Len(t, res.Written(), 1)
	assert.Contains(t, readFile(t, root, "docs/a.css"), "blue")
}

func TestRun_FailureKeepsPreviousOutput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "body { color: red; }")
	writeFile(t, root, "docs/b.scss", "p { margin: 0; }")

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(root, TranspilerFunc(fakeSass), WithLogger(zap.New(core)), WithMetrics(m))

	_, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)
	before := readFile(t, root, "docs/a.css")

	writeFile(t, root, "docs/a.scss", "body { color: ERR")
	writeFile(t, root, "docs/b.scss", "p { margin: 1px; }")

	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err, "compile failures do not abort the run")
	assert.False(t, res.OK())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "docs/a.scss", res.Failures[0].Source)
	assert.True(t, errors.HasCode(res.Failures[0].Err, "E201"))

	assert.Equal(t, before, readFile(t, root, "docs/a.css"), "failed compile leaves output untouched")
	assert.Contains(t, readFile(t, root, "docs/b.css"), "1px", "other files still compile")

	failed := logs.FilterMessage("compile failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "docs/a.scss", failed[0].ContextMap()["file"])

	entries, err := os.ReadDir(filepath.Join(root, "docs"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "no temp files left behind: %s", e.Name())
	}
}

func TestRun_MissingSourceIsEmpty(t *testing.T) {
	root := t.TempDir()
	c := New(root, TranspilerFunc(fakeSass))

	res, err := c.Run(context.Background(), mustPass(t, config.PassConfig{Name: "root", Source: "eq-sass.scss", Dest: "."}))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.Outputs)
}

func TestRun_ListFailureIsCoded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.scss"), []byte("a{}"), 0o644))
	c := New(root, TranspilerFunc(fakeSass))

	_, err := c.Run(context.Background(), mustPass(t, config.PassConfig{Name: "x", Source: "a.scss/b.scss", Dest: "."}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, "E205"), "got %v", err)
}

func TestRun_RequestFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "styles/a.sass", "body\n  color: red\n")

	var got sass.Request
	c := New(root, TranspilerFunc(func(ctx context.Context, req sass.Request) ([]byte, error) {
		got = req
		return []byte("body{}"), nil
	}))

	p := mustPass(t, config.PassConfig{
		Name:      "s",
		Source:    "styles/*.sass",
		Dest:      "out",
		Style:     sass.StyleCompressed,
		LoadPaths: []string{"vendor"},
	})
	_, err := c.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "styles/a.sass", got.Path)
	assert.True(t, got.Indented)
	assert.Equal(t, sass.StyleCompressed, got.Style)
	assert.Equal(t, []string{filepath.Join(root, "vendor")}, got.LoadPaths)
	assert.Equal(t, "body\n  color: red\n", string(got.Source))
	assert.FileExists(t, filepath.Join(root, "out", "a.css"))
}

func TestRun_PostProcess(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.scss", "body {\n  color: red;\n}\n")

	c := New(root, TranspilerFunc(func(ctx context.Context, req sass.Request) ([]byte, error) {
		return req.Source, nil
	}))
	p := mustPass(t, config.PassConfig{Name: "min", Source: "a.scss", Dest: "dist", Minify: true})

	_, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}\n", readFile(t, root, "dist/a.css"))
}

func TestRun_SourceOrderUnderConcurrency(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 8; i++ {
		writeFile(t, root, fmt.Sprintf("docs/f%d.scss", i), fmt.Sprintf("a { z-index: %d; }", i))
	}

	var mu sync.Mutex
	active, peak := 0, 0
	c := New(root, TranspilerFunc(func(ctx context.Context, req sass.Request) ([]byte, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		// Later files finish first.
		n := 8 - int(req.Path[len("docs/f")]-'0')
		time.Sleep(time.Duration(n) * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return req.Source, nil
	}), WithConcurrency(3))

	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 8)
	for i, o := range res.Outputs {
		assert.Equal(t, fmt.Sprintf("docs/f%d.scss", i), o.Source)
	}
	assert.LessOrEqual(t, peak, 3)
}

func TestRun_SkipDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "a{}")
	writeFile(t, root, "docs/node_modules/pkg/b.scss", "b{}")

	c := New(root, TranspilerFunc(fakeSass), WithSkipDirs([]string{"node_modules"}))
	res, err := c.Run(context.Background(), docsPass(t))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "docs/a.scss", res.Outputs[0].Source)
}

func TestRun_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "a{}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(root, TranspilerFunc(fakeSass))
	_, err := c.Run(ctx, docsPass(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(root, "docs", "a.css"))
}

func TestRunAll_InOrderWithTracing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.scss", "a{}")
	writeFile(t, root, "eq-sass.scss", "b{}")

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	passes, err := PassesFromConfig(config.New())
	require.NoError(t, err)

	c := New(root, TranspilerFunc(fakeSass), WithTracer(tp.Tracer("test")))
	results, err := c.RunAll(context.Background(), passes)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "docs", results[0].Pass)
	assert.Equal(t, "root", results[1].Pass)
	assert.FileExists(t, filepath.Join(root, "docs", "a.css"))
	assert.FileExists(t, filepath.Join(root, "eq-sass.css"))

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "pipeline.RunAll")
	assert.Contains(t, names, "pipeline.Run")
	assert.Contains(t, names, "pipeline.compileFile")
}

func TestWriteIfChanged(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nested", "out.css")
	c := New(t.TempDir(), nil)

	changed, err := c.writeIfChanged(name, []byte("a{}"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.writeIfChanged(name, []byte("a{}"))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = c.writeIfChanged(name, []byte("b{}"))
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "b{}", string(data))

	// A fresh compiler has no digests and compares the bytes on disk.
	changed, err = New(t.TempDir(), nil).writeIfChanged(name, []byte("b{}"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWriteIfChanged_DetectsOutsideEdit(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.css")
	c := New(t.TempDir(), nil)

	changed, err := c.writeIfChanged(name, []byte("a{}"))
	require.NoError(t, err)
	require.True(t, changed)

	// Same size, different content and a different modification time.
	require.NoError(t, os.WriteFile(name, []byte("x{}"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(name, later, later))

	changed, err = c.writeIfChanged(name, []byte("a{}"))
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(data))
}
