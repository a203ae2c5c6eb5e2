package dev

import (
	"bytes"
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/browser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/sassdev/internal/config"
	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/glob"
	"github.com/vango-dev/sassdev/internal/logging"
	"github.com/vango-dev/sassdev/internal/metrics"
	"github.com/vango-dev/sassdev/internal/pipeline"
)

// MetricsPath serves Prometheus metrics when dev.metrics is on.
const MetricsPath = "/_sassdev/metrics"

const (
	changeBuffer    = 256
	shutdownTimeout = 5 * time.Second
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Compiler runs the passes.
	Compiler *pipeline.Compiler

	// Passes are recompiled on every style change.
	Passes []pipeline.Pass

	Logger *zap.Logger

	// Metrics records reloads and compiles. It may be nil.
	Metrics *metrics.Metrics

	// OpenBrowser opens url when dev.open is set. Default: browser.OpenURL.
	OpenBrowser func(url string) error
}

// Server is the development server: it serves the documentation root,
// watches the project and pushes reloads to connected browsers.
type Server struct {
	config       *config.Config
	options      ServerOptions
	compiler     *pipeline.Compiler
	logger       *zap.Logger
	watcher      *Watcher
	reloadServer *ReloadServer
	changeCh     chan Change
	styles       *glob.Pattern
	pages        *glob.Pattern
	httpServer   *http.Server

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	addr      string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	logger := logging.OrNop(options.Logger)
	if options.OpenBrowser == nil {
		options.OpenBrowser = browser.OpenURL
	}

	watcher := NewWatcher(WatcherConfig{
		Root:   cfg.Dir(),
		Ignore: cfg.Dev.Ignore,
		Logger: logger.Named("watch"),
	})

	var reloadServer *ReloadServer
	if cfg.Dev.HotReload {
		reloadServer = NewReloadServer(logger.Named("reload"), options.Metrics)
	}

	return &Server{
		config:       cfg,
		options:      options,
		compiler:     options.Compiler,
		logger:       logger,
		watcher:      watcher,
		reloadServer: reloadServer,
		changeCh:     make(chan Change, changeBuffer),
		ready:        make(chan struct{}),
	}
}

// Ready is closed once the server is listening and the watcher is armed.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server listens on, once Ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the base URL of the server, once Ready.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Start builds (when dev.build_on_start is set), starts serving and
// watching, and blocks until ctx is done, Stop is called or a component
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	defer s.Stop()

	var err error
	if s.styles, err = glob.Compile(s.config.Watch.Styles); err != nil {
		return err
	}
	if s.pages, err = glob.Compile(s.config.PagesPattern()); err != nil {
		return err
	}

	root := s.config.RootPath()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		s.logger.Warn("documentation root does not exist; every request will 404",
			zap.String("root", root))
	}

	if s.config.Dev.BuildOnStart {
		s.rebuild(ctx, false)
	}

	ln, err := net.Listen("tcp", s.config.DevAddress())
	if err != nil {
		return errors.New("E301").
			WithDetail("cannot listen on " + s.config.DevAddress()).
			Wrap(err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	s.httpServer = &http.Server{
		Handler: s.routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.watcher.OnChange(func(change Change) {
		select {
		case s.changeCh <- change:
		case <-gctx.Done():
		}
	})

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("E301").Wrap(err)
		}
		return nil
	})

	g.Go(func() error {
		return s.watcher.Start(gctx)
	})

	g.Go(func() error {
		s.processChanges(gctx)
		return nil
	})

	g.Go(func() error {
		select {
		case <-s.watcher.Ready():
		case <-gctx.Done():
			return nil
		}
		s.readyOnce.Do(func() { close(s.ready) })
		s.logger.Info("serving",
			zap.String("url", s.URL()),
			zap.String("root", s.config.Dev.Root),
		)
		if s.config.Dev.Open {
			if err := s.options.OpenBrowser(s.URL()); err != nil {
				s.logger.Warn("cannot open browser", zap.Error(err))
			}
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		s.watcher.Stop()
		if s.reloadServer != nil {
			s.reloadServer.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Debug("shutting down dev server")
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop stops the development server. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
}

// routes builds the HTTP handler.
func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.Recoverer)

	if s.reloadEnabled() {
		r.Handle(ReloadPath, s.reloadServer)
	}
	if s.config.Dev.Metrics {
		r.Handle(MetricsPath, s.options.Metrics.Handler())
	}
	r.Handle("/*", s.staticHandler())
	return r
}

// processChanges serializes file change handling and coalesces bursts.
func (s *Server) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.changeCh:
			changes := []Change{change}
			if d := s.config.Dev.Debounce; d > 0 {
				changes = s.settle(ctx, changes, d)
			}
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next)
				default:
					draining = false
				}
			}
			s.handleChanges(ctx, changes)
		}
	}
}

// settle collects changes until none arrive for d.
func (s *Server) settle(ctx context.Context, changes []Change, d time.Duration) []Change {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return changes
		case next := <-s.changeCh:
			changes = append(changes, next)
			timer.Reset(d)
		case <-timer.C:
			return changes
		}
	}
}

// handleChanges handles a batch of file changes. Style changes recompile
// every pass; page changes only reload.
func (s *Server) handleChanges(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}

	hasStyle := false
	hasPage := false

	for _, change := range changes {
		switch {
		case s.styles.Match(change.Path):
			s.logger.Info("changed", zap.String("file", change.Path))
			hasStyle = true
		case s.pages.Match(change.Path):
			s.logger.Info("changed", zap.String("file", change.Path))
			hasPage = true
		default:
			s.logger.Debug("change ignored",
				zap.String("file", change.Path),
				zap.Stringer("type", change.Type),
			)
		}
	}

	if hasStyle {
		s.rebuild(ctx, !hasPage)
	}
	if hasPage {
		s.notifyReload()
	}
}

// rebuild runs every pass and reports the outcome to browsers. When swap
// is set, changed stylesheets under the served root are swapped in place.
func (s *Server) rebuild(ctx context.Context, swap bool) {
	results, err := s.compiler.RunAll(ctx, s.options.Passes)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("build failed", zap.Error(err))
			s.notifyError(plain(err))
		}
		return
	}

	var failures []string
	for _, res := range results {
		for _, f := range res.Failures {
			failures = append(failures, plain(f.Err))
		}
	}
	if len(failures) > 0 {
		s.notifyError(strings.Join(failures, "\n\n"))
	} else {
		s.clearReloadError()
	}

	if !swap {
		return
	}
	for _, res := range results {
		if !res.Reload {
			continue
		}
		for _, out := range res.Written() {
			if urlPath, ok := s.servedPath(out.Path); ok {
				s.notifyCSS(urlPath)
			}
		}
	}
}

// servedPath maps a project-relative file to its URL path when it lives
// under the served root.
func (s *Server) servedPath(rel string) (string, bool) {
	root := s.config.RootRel()
	if root == "." {
		return "/" + rel, true
	}
	if !strings.HasPrefix(rel, root+"/") {
		return "", false
	}
	return "/" + strings.TrimPrefix(rel, root+"/"), true
}

// staticHandler serves the documentation root with caching disabled and
// the reload client injected into HTML pages.
func (s *Server) staticHandler() http.Handler {
	root := s.config.RootPath()
	fileServer := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")

		if !s.reloadEnabled() {
			fileServer.ServeHTTP(w, r)
			return
		}

		name, ok := htmlFile(root, r.URL.Path)
		if !ok {
			fileServer.ServeHTTP(w, r)
			return
		}
		body, err := os.ReadFile(name)
		if err != nil {
			fileServer.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, filepath.Base(name), time.Time{}, bytes.NewReader(injectScript(body)))
	})
}

// htmlFile resolves an HTML page for a request path, following directory
// index files. Directory requests without a trailing slash are left to the
// file server so it can redirect.
func htmlFile(root, urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	name := filepath.Join(root, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			return "", false
		}
		name = filepath.Join(name, "index.html")
		if info, err = os.Stat(name); err != nil || info.IsDir() {
			return "", false
		}
	} else if strings.HasSuffix(clean, "/index.html") {
		// The file server redirects these to the directory.
		return "", false
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return name, true
	}
	return "", false
}

// injectScript inserts the reload client before </body>, falling back to
// </html> and then the end of the document.
func injectScript(body []byte) []byte {
	script := []byte(ClientScript)
	idx := bytes.LastIndex(body, []byte("</body>"))
	if idx == -1 {
		idx = bytes.LastIndex(body, []byte("</html>"))
	}
	if idx == -1 {
		return append(body, script...)
	}

	out := make([]byte, 0, len(body)+len(script))
	out = append(out, body[:idx]...)
	out = append(out, script...)
	return append(out, body[idx:]...)
}

func plain(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Plain()
	}
	return err.Error()
}

func (s *Server) reloadEnabled() bool {
	return s.reloadServer != nil
}

func (s *Server) notifyReload() {
	if !s.reloadEnabled() {
		s.logger.Debug("page changed (hot reload disabled)")
		return
	}
	s.reloadServer.NotifyReload()
	s.logger.Info("reloaded", zap.Int("browsers", s.reloadServer.ClientCount()))
}

func (s *Server) notifyCSS(urlPath string) {
	if !s.reloadEnabled() {
		return
	}
	s.reloadServer.NotifyCSS(urlPath)
	s.logger.Info("stylesheet updated",
		zap.String("path", urlPath),
		zap.Int("browsers", s.reloadServer.ClientCount()),
	)
}

func (s *Server) notifyError(msg string) {
	if !s.reloadEnabled() || !s.config.Dev.Overlay {
		return
	}
	s.reloadServer.NotifyError(msg)
}

func (s *Server) clearReloadError() {
	if !s.reloadEnabled() {
		return
	}
	s.reloadServer.ClearError()
}
