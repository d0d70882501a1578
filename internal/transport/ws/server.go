package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler upgrades HTTP requests and attaches each socket to a registry.
type Handler struct {
	registry *session.Registry
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler serves websocket peers for reg. Empty origins accepts any
// browser origin.
func NewHandler(reg *session.Registry, opts Options, origins ...string) *Handler {
	opts = opts.withDefaults()
	h := &Handler{registry: reg, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: reg.Config().HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(origins, r.Header.Get("Origin"))
		},
	}
	return h
}

// ServeHTTP blocks for the life of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn := NewConn(ws, h.opts)
	ch := h.registry.Attach(conn)
	if err := conn.Run(ch); err != nil {
		log.Debug().Str("channel", ch.ID()).Err(err).Msg("websocket closed")
	}
}

func originAllowed(origins []string, origin string) bool {
	if len(origins) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(origins, origin) || slices.Contains(origins, u.Host)
}

// Dial opens a client websocket to rawURL.
func Dial(ctx context.Context, rawURL string, opts Options, header http.Header) (*Conn, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.WriteTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		TLSClientConfig:  opts.TLSConfig,
	}
	ws, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", rawURL, err)
	}
	return NewConn(ws, opts), nil
}
