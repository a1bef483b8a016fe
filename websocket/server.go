package websocket

import (
	"context"
	"net/http"

	"golang.org/x/net/websocket"
)

// NewServer returns a websocket server that serves each connection with its
// own handler built by the given function. Connections stop when the given
// context is canceled.
func NewServer(ctx context.Context, newHandler func() Handler) *websocket.Server {
	return &websocket.Server{
		Handshake: func(config *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := newHandler()
			defer h.Close()

			Handle(ctx, conn, h)
		},
	}
}
