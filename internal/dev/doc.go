// Package dev provides the development server and live reload.
//
// This package implements:
//   - Recursive file watching with fsnotify
//   - Recompiling every pass when a stylesheet changes
//   - Static serving of the documentation root
//   - WebSocket-based browser refresh and stylesheet swapping
//   - Error overlay in browser
//
// # Architecture
//
// The development server consists of several components:
//
//   - Watcher: Monitors the project tree for changes
//   - Server: Serves the documentation root and dispatches changes
//   - ReloadServer: Notifies browsers of changes via WebSocket
//
// Changes are handled by a single dispatcher goroutine, so a compile never
// overlaps another. A burst of changes is handled as one batch; with
// dev.debounce set, the dispatcher waits until the tree has been quiet that
// long first.
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{
//	    Config:   cfg,
//	    Compiler: compiler,
//	    Passes:   passes,
//	    Logger:   logger,
//	})
//
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// # Hot Reload Protocol
//
// The browser connects to /_sassdev/reload via WebSocket.
// Messages are JSON-encoded:
//
//	{"type": "reload"}                  // Triggers full page reload
//	{"type": "css", "file": "/a.css"}   // Swaps one stylesheet in place
//	{"type": "error", "error": "..."}   // Shows error overlay
//	{"type": "clear"}                   // Clears error overlay
package dev
