package lsp

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	glspserver "github.com/tliron/glsp/server"
)

// RunStdio serves a single client on stdin/stdout until it disconnects.
func (h *Handler) RunStdio() error {
	return glspserver.NewServer(h.Protocol(), serverName, false).RunStdio()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Editors connect from localhost or embedded webviews with varying origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket and speaks LSP over it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("lsp websocket upgrade failed", "error", err)
		return
	}
	slog.Debug("lsp websocket connected", "remote", r.RemoteAddr)
	glspserver.NewServer(h.Protocol(), serverName, false).ServeWebSocket(conn)
	slog.Debug("lsp websocket closed", "remote", r.RemoteAddr)
}
