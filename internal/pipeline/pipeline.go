// Package pipeline compiles stylesheets matched by a pass's source glob into
// CSS files under its destination directory.
//
// A stylesheet that fails to compile is logged and reported in the Result;
// the rest of the pass still runs and the failed file's previous output is
// left untouched. Outputs are written atomically and only when their content
// changed, so a second run over unchanged sources writes nothing.
package pipeline

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/sassdev/internal/css"
	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/metrics"
	"github.com/vango-dev/sassdev/internal/sass"
)

// TracerName is the instrumentation name of pipeline spans.
const TracerName = "github.com/vango-dev/sassdev/internal/pipeline"

// Transpiler turns one stylesheet into CSS.
type Transpiler interface {
	Compile(ctx context.Context, req sass.Request) ([]byte, error)
}

// TranspilerFunc adapts a function to Transpiler.
type TranspilerFunc func(ctx context.Context, req sass.Request) ([]byte, error)

// Compile calls f.
func (f TranspilerFunc) Compile(ctx context.Context, req sass.Request) ([]byte, error) {
	return f(ctx, req)
}

// PostProcessor rewrites compiled CSS.
type PostProcessor func(src []byte, file string, opts css.Options) ([]byte, error)

// Output is one written or unchanged CSS file.
type Output struct {
	// Source is the stylesheet, relative to the project directory.
	Source string

	// Path is the CSS file, relative to the project directory.
	Path string

	// Changed is false when the existing file already held this content.
	Changed bool
}

// Failure is one stylesheet that did not produce output.
type Failure struct {
	Source string
	Err    error
}

// Result is the outcome of running one pass.
type Result struct {
	// Pass is the pass name.
	Pass string

	// Reload is copied from the pass.
	Reload bool

	// Outputs are successful compiles, in source order.
	Outputs []Output

	// Failures are failed compiles, in source order.
	Failures []Failure

	// Skipped are partials that were not compiled on their own.
	Skipped []string

	// Duration is the wall time of the run.
	Duration time.Duration
}

// OK reports whether every stylesheet compiled.
func (r *Result) OK() bool {
	return len(r.Failures) == 0
}

// Written returns the outputs whose content changed.
func (r *Result) Written() []Output {
	var out []Output
	for _, o := range r.Outputs {
		if o.Changed {
			out = append(out, o)
		}
	}
	return out
}

// Unchanged returns the outputs that already held the compiled content.
func (r *Result) Unchanged() []Output {
	var out []Output
	for _, o := range r.Outputs {
		if !o.Changed {
			out = append(out, o)
		}
	}
	return out
}

// Compiler runs passes.
type Compiler struct {
	dir         string
	transpiler  Transpiler
	post        PostProcessor
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	concurrency int
	skipDirs    map[string]bool

	mu      sync.Mutex
	digests map[string]digest
}

// digest identifies the content of an output as last written or verified.
type digest struct {
	sum  uint64
	size int64
	mod  time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records compiles in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compiler) {
		c.metrics = m
	}
}

// WithTracer sets the tracer. Default: the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Compiler) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithPostProcessor replaces the CSS post-processor. Default: css.Transform.
func WithPostProcessor(p PostProcessor) Option {
	return func(c *Compiler) {
		c.post = p
	}
}

// WithConcurrency bounds how many stylesheets compile at once.
// Default: GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithSkipDirs names directories never searched for sources.
func WithSkipDirs(names []string) Option {
	return func(c *Compiler) {
		c.skipDirs = make(map[string]bool, len(names))
		for _, n := range names {
			c.skipDirs[n] = true
		}
	}
}

// New returns a Compiler for the project in dir.
func New(dir string, t Transpiler, opts ...Option) *Compiler {
	c := &Compiler{
		dir:         dir,
		transpiler:  t,
		post:        css.Transform,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(TracerName),
		concurrency: runtime.GOMAXPROCS(0),
		digests:     make(map[string]digest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the project directory.
func (c *Compiler) Dir() string {
	return c.dir
}

// RunAll runs every pass in order. It stops early only when ctx is done.
func (c *Compiler) RunAll(ctx context.Context, passes []Pass) ([]*Result, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.RunAll",
		trace.WithAttributes(attribute.Int("sassdev.passes", len(passes))))
	defer span.End()

	results := make([]*Result, 0, len(passes))
	for _, p := range passes {
		res, err := c.Run(ctx, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Run compiles every stylesheet matched by the pass. The returned error is
// non-nil only when sources cannot be listed or ctx is done; compile
// failures are reported in the Result.
func (c *Compiler) Run(ctx context.Context, p Pass) (*Result, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("sassdev.pass", p.Name),
			attribute.String("sassdev.source", p.Source.String()),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Pass: p.Name, Reload: p.Reload}

	files, err := p.Source.Files(c.dir, c.skipDir)
	if err != nil {
		err = errors.FromError(err, "E205").WithDetail("cannot list " + p.Source.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var sources []string
	for _, f := range files {
		if IsPartial(f) {
			res.Skipped = append(res.Skipped, f)
			continue
		}
		sources = append(sources, f)
	}

	outcomes := make([]outcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			outcomes[i] = c.compileFile(gctx, p, src)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, Failure{Source: sources[i], Err: o.err})
			continue
		}
		res.Outputs = append(res.Outputs, o.output)
	}
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("sassdev.outputs", len(res.Outputs)),
		attribute.Int("sassdev.failures", len(res.Failures)),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, "stylesheets failed to compile")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	c.logger.Debug("pass finished",
		zap.String("pass", p.Name),
		zap.Int("compiled", len(res.Outputs)),
		zap.Int("written", len(res.Written())),
		zap.Int("failed", len(res.Failures)),
		zap.Int("partials", len(res.Skipped)),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

type outcome struct {
	output Output
	err    error
}

func (c *Compiler) skipDir(name string) bool {
	return c.skipDirs[name]
}

// abs resolves a slash-separated project path.
func (c *Compiler) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, filepath.FromSlash(p))
}

func (c *Compiler) compileFile(ctx context.Context, p Pass, src string) outcome {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "pipeline.compileFile",
		trace.WithAttributes(
			attribute.String("sassdev.pass", p.Name),
			attribute.String("sassdev.file", src),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}

	out, err := c.build(ctx, p, src)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{err: ctx.Err()}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveCompile(p.Name, metrics.StatusFailed, time.Since(start))
		c.logger.Error("compile failed",
			zap.String("pass", p.Name),
			zap.String("file", src),
			zap.Error(err),
		)
		return outcome{err: err}
	}

	status := metrics.StatusUnchanged
	if out.Changed {
		status = metrics.StatusWritten
		c.logger.Info("compiled",
			zap.String("file", src),
			zap.String("output", out.Path),
			zap.Duration("took", time.Since(start)),
		)
	}
	c.metrics.ObserveCompile(p.Name, status, time.Since(start))
	span.SetAttributes(attribute.Bool("sassdev.changed", out.Changed))
	return outcome{output: out}
}

func (c *Compiler) build(ctx context.Context, p Pass, src string) (Output, error) {
	source, err := os.ReadFile(c.abs(src))
	if err != nil {
		return Output{}, errors.New("E201").WithDetail("cannot read " + src).Wrap(err)
	}

	loadPaths := make([]string, 0, len(p.LoadPaths))
	for _, lp := range p.LoadPaths {
		loadPaths = append(loadPaths, c.abs(lp))
	}

	compiled, err := c.transpiler.Compile(ctx, sass.Request{
		Path:      src,
		Source:    source,
		Indented:  path.Ext(src) == ".sass",
		LoadPaths: loadPaths,
		Style:     p.Style,
	})
	if err != nil {
		return Output{}, err
	}

	if p.CSS.Enabled() && c.post != nil {
		compiled, err = c.post(compiled, src, p.CSS)
		if err != nil {
			return Output{}, err
		}
	}

	rel := p.OutputPath(src)
	changed, err := c.writeIfChanged(c.abs(rel), compiled)
	if err != nil {
		return Output{}, errors.New("E204").WithDetail("cannot write " + rel).Wrap(err)
	}
	return Output{Source: src, Path: rel, Changed: changed}, nil
}

// writeIfChanged writes data to name unless the file already holds it. A
// file whose size and modification time match the digest recorded for it is
// compared by hash without reading it; any other existing file is read and
// compared byte for byte. The write goes to a temporary file in the same
// directory which is then renamed over name, so readers never observe a
// partial file.
func (c *Compiler) writeIfChanged(name string, data []byte) (bool, error) {
	sum := xxhash.Sum64(data)

	if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
		if d, ok := c.digest(name); ok && d.matches(info) {
			if d.sum == sum {
				return false, nil
			}
		} else if info.Size() == int64(len(data)) {
			if existing, err := os.ReadFile(name); err == nil && bytes.Equal(existing, data) {
				c.remember(name, sum, info)
				return false, nil
			}
		}
	}

	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return false, err
	}
	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return false, err
	}

	if info, err := os.Stat(name); err == nil {
		c.remember(name, sum, info)
	}
	return true, nil
}

func (c *Compiler) digest(name string) (digest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.digests[name]
	return d, ok
}

func (c *Compiler) remember(name string, sum uint64, info os.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digests[name] = digest{sum: sum, size: info.Size(), mod: info.ModTime()}
}

func (d digest) matches(info os.FileInfo) bool {
	return d.size == info.Size() && d.mod.Equal(info.ModTime())
}
