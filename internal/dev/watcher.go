package dev

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/logging"
)

// ChangeType represents the type of file change.
type ChangeType int

const (
	ChangeStyle ChangeType = iota
	ChangeCSS
	ChangePage
	ChangeAsset
)

func (t ChangeType) String() string {
	switch t {
	case ChangeStyle:
		return "style"
	case ChangeCSS:
		return "css"
	case ChangePage:
		return "page"
	default:
		return "asset"
	}
}

// Change represents a detected file change.
type Change struct {
	// Path is slash-separated and relative to the watched root.
	Path string
	Type ChangeType
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Root is the directory watched recursively.
	Root string

	// Ignore lists names, path segments or globs to skip.
	Ignore []string

	Logger *zap.Logger
}

// DefaultIgnore contains file patterns that are always ignored.
var DefaultIgnore = []string{
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher monitors a directory tree for changes.
type Watcher struct {
	config   WatcherConfig
	logger   *zap.Logger
	onChange func(Change)
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	ready    chan struct{}
	readyOne sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	config.Ignore = append(append([]string{}, config.Ignore...), DefaultIgnore...)
	return &Watcher{
		config: config,
		logger: logging.OrNop(config.Logger),
		ready:  make(chan struct{}),
	}
}

// OnChange sets the callback for file changes. It is called from the
// watcher goroutine.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Ready is closed once every directory under the root is registered.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start registers the tree and blocks until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New("E302").Wrap(err)
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.config.Root); err != nil {
		return errors.New("E302").WithDetail("cannot watch " + w.config.Root).Wrap(err)
	}
	w.readyOne.Do(func() { close(w.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, ok := w.relative(event.Name)
	if !ok || w.shouldIgnore(rel) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fsw, event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", zap.String("dir", rel), zap.Error(err))
			}
			return
		}
	}

	change := Change{Path: rel, Type: classifyChange(rel)}
	w.logger.Debug("file changed",
		zap.String("file", change.Path),
		zap.Stringer("type", change.Type),
		zap.Stringer("op", event.Op),
	)

	w.mu.Lock()
	callback := w.onChange
	w.mu.Unlock()
	if callback != nil {
		callback(change)
	}
}

func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.config.Root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addRecursive adds dir and every directory below it that is not ignored.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && w.shouldIgnore(rel) {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

// shouldIgnore checks if a root-relative path should be ignored.
func (w *Watcher) shouldIgnore(rel string) bool {
	name := path.Base(rel)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		// Direct match
		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/")
		hasGlob := strings.ContainsAny(pattern, "*?[")

		if hasGlob {
			if hasPathSep {
				if matched, _ := path.Match(pattern, rel); matched {
					return true
				}
			} else if matched, _ := path.Match(pattern, name); matched {
				return true
			}
			continue
		}

		if hasPathSep {
			if pathMatchesSegments(rel, pattern) {
				return true
			}
			continue
		}

		if pathHasSegment(rel, pattern) {
			return true
		}
	}

	return false
}

func pathHasSegment(p, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range splitPathSegments(p) {
		if part == segment {
			return true
		}
	}
	return false
}

func pathMatchesSegments(p, pattern string) bool {
	pathParts := splitPathSegments(p)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitPathSegments(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// classifyChange determines the type of change based on file extension.
func classifyChange(p string) ChangeType {
	switch strings.ToLower(path.Ext(p)) {
	case ".scss", ".sass":
		return ChangeStyle
	case ".css":
		return ChangeCSS
	case ".html", ".htm":
		return ChangePage
	default:
		return ChangeAsset
	}
}
