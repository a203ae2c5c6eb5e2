package dev

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vango-dev/sassdev/internal/logging"
	"github.com/vango-dev/sassdev/internal/metrics"
)

// ReloadPath is the WebSocket endpoint browsers connect to.
const ReloadPath = "/_sassdev/reload"

// ReloadMessageType represents the type of reload message.
type ReloadMessageType string

const (
	ReloadTypeFull  ReloadMessageType = "reload"
	ReloadTypeCSS   ReloadMessageType = "css"
	ReloadTypeError ReloadMessageType = "error"
	ReloadTypeClear ReloadMessageType = "clear"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Type  ReloadMessageType `json:"type"`
	Error string            `json:"error,omitempty"`
	File  string            `json:"file,omitempty"`
}

const writeTimeout = 5 * time.Second

type reloadClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *reloadClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReloadServer manages WebSocket connections for live reload.
type ReloadServer struct {
	clients  map[*reloadClient]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	lastErr  string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewReloadServer creates a new reload server. logger and m may be nil.
func NewReloadServer(logger *zap.Logger, m *metrics.Metrics) *ReloadServer {
	return &ReloadServer{
		clients: make(map[*reloadClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// ServeHTTP upgrades the request and holds the connection until the
// browser goes away. A client that connects while a compile error is
// showing receives the error straight away.
func (r *ReloadServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &reloadClient{conn: conn}

	r.mu.Lock()
	r.clients[client] = true
	pending := r.lastErr
	count := len(r.clients)
	r.mu.Unlock()
	r.metrics.SetClients(count)
	r.logger.Debug("reload client connected", zap.Int("clients", count))

	if pending != "" {
		if data, err := json.Marshal(ReloadMessage{Type: ReloadTypeError, Error: pending}); err == nil {
			_ = client.write(data)
		}
	}

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.remove(client)
}

func (r *ReloadServer) remove(client *reloadClient) {
	r.mu.Lock()
	_, ok := r.clients[client]
	delete(r.clients, client)
	count := len(r.clients)
	r.mu.Unlock()

	if ok {
		client.conn.Close()
		r.metrics.SetClients(count)
	}
}

// NotifyReload sends a full page reload message to all clients.
func (r *ReloadServer) NotifyReload() {
	r.broadcast(ReloadMessage{Type: ReloadTypeFull})
}

// NotifyCSS tells clients to swap the stylesheet served at urlPath.
func (r *ReloadServer) NotifyCSS(urlPath string) {
	r.broadcast(ReloadMessage{Type: ReloadTypeCSS, File: urlPath})
}

// NotifyError shows an error overlay on all clients, including ones that
// connect later, until ClearError.
func (r *ReloadServer) NotifyError(errMsg string) {
	r.mu.Lock()
	r.lastErr = errMsg
	r.mu.Unlock()
	r.broadcast(ReloadMessage{Type: ReloadTypeError, Error: errMsg})
}

// ClearError clears the error overlay. It does nothing when no error is
// showing.
func (r *ReloadServer) ClearError() {
	r.mu.Lock()
	had := r.lastErr != ""
	r.lastErr = ""
	r.mu.Unlock()
	if had {
		r.broadcast(ReloadMessage{Type: ReloadTypeClear})
	}
}

// broadcast sends a message to all connected clients.
func (r *ReloadServer) broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.RLock()
	clients := make([]*reloadClient, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	r.metrics.IncReload(string(msg.Type))
	r.logger.Debug("broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("file", msg.File),
		zap.Int("clients", len(clients)),
	)

	for _, client := range clients {
		if err := client.write(data); err != nil {
			r.remove(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[*reloadClient]bool)
	r.mu.Unlock()

	for client := range clients {
		client.conn.Close()
	}
	r.metrics.SetClients(0)
}

// ClientScript is injected before </body> of served pages. It reconnects
// with backoff, swaps stylesheets in place on "css" and shows compile
// errors in an overlay.
const ClientScript = `
<script>
(function() {
    'use strict';

    var reconnectDelay = 1000;
    var maxReconnectDelay = 30000;
    var ws = null;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        ws = new WebSocket(protocol + '//' + location.host + '` + ReloadPath + `');

        ws.onopen = function() {
            console.log('[sassdev] Live reload connected');
            reconnectDelay = 1000;
        };

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }

            switch (msg.type) {
                case 'reload':
                    console.log('[sassdev] Reloading...');
                    location.reload();
                    break;

                case 'css':
                    console.log('[sassdev] Updated', msg.file);
                    reloadCSS(msg.file);
                    break;

                case 'error':
                    console.error('[sassdev] Compile error:', msg.error);
                    showErrorOverlay(msg.error);
                    break;

                case 'clear':
                    clearErrorOverlay();
                    break;
            }
        };

        ws.onclose = function() {
            console.log('[sassdev] Connection lost, reconnecting in', reconnectDelay + 'ms');
            setTimeout(function() {
                reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
                connect();
            }, reconnectDelay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    function reloadCSS(file) {
        var links = document.querySelectorAll('link[rel="stylesheet"]');
        var matched = [];
        links.forEach(function(link) {
            if (file && new URL(link.href).pathname === file) {
                matched.push(link);
            }
        });
        if (matched.length === 0) {
            matched = Array.prototype.slice.call(links);
        }
        matched.forEach(function(link) {
            var url = new URL(link.href);
            url.searchParams.set('_reload', Date.now());
            link.href = url.toString();
        });
    }

    function showErrorOverlay(error) {
        clearErrorOverlay();

        var overlay = document.createElement('div');
        overlay.id = 'sassdev-error-overlay';
        overlay.style.cssText = 'position:fixed;top:0;left:0;right:0;bottom:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:999999;';

        var content = document.createElement('div');
        content.style.cssText = 'max-width:800px;margin:0 auto;';

        var title = document.createElement('h2');
        title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
        title.textContent = 'Sass Error';

        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;word-wrap:break-word;background:#1a1a1a;padding:20px;border-radius:8px;border:1px solid #333;';
        pre.textContent = error;

        var hint = document.createElement('p');
        hint.style.cssText = 'margin-top:20px;color:#888;';
        hint.textContent = 'Fix the stylesheet and save to recompile.';

        content.appendChild(title);
        content.appendChild(pre);
        content.appendChild(hint);
        overlay.appendChild(content);
        document.body.appendChild(overlay);
    }

    function clearErrorOverlay() {
        var overlay = document.getElementById('sassdev-error-overlay');
        if (overlay) {
            overlay.remove();
        }
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
</script>
`
