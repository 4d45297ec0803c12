package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/protocol"
)

// Conn is the server side of one transport channel as seen by a [Handler].
//
// ReadChunk is only ever called from a single goroutine. Send and Close may be
// called concurrently with ReadChunk and with each other.
type Conn interface {
	// ReadChunk blocks until the next upstream audio chunk arrives. It returns
	// an error once the channel is closed.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Send writes one downstream message.
	Send(ctx context.Context, msg protocol.Message) error

	// Close terminates the channel with the given status code.
	Close(code websocket.StatusCode, reason string) error
}

// wsConn adapts a coder/websocket connection to [Conn]. Upstream chunks are
// binary frames; downstream messages are JSON text frames.
type wsConn struct {
	ws  *websocket.Conn
	log *slog.Logger
}

func newWSConn(ws *websocket.Conn, log *slog.Logger) *wsConn {
	return &wsConn{ws: ws, log: log}
}

func (c *wsConn) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageBinary {
			return data, nil
		}
		c.log.Debug("ignoring text frame from client", "len", len(data))
	}
}

func (c *wsConn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("relay: encode %s message: %w", msg.Type, err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
