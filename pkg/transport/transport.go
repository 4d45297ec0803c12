// Package transport is the client end of the livescribe duplex channel.
//
// A [Channel] sends audio chunks upstream as binary WebSocket frames and
// delivers decoded downstream [protocol.Message] values in arrival order. The
// channel has no reconnect or resume semantics: once it closes, the session
// is over and the caller must [Dial] again.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/protocol"
)

// ErrClosed is returned by [Channel.SendChunk] after [Channel.Close].
var ErrClosed = errors.New("transport: channel closed")

// Error reports that the channel failed. It is terminal for the session.
type Error struct {
	// Op is the operation that failed: "dial", "send" or "receive".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Option configures a [Channel].
type Option func(*options)

type options struct {
	log       *slog.Logger
	queueSize int
}

// WithLogger sets the logger used for dropped or malformed messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithQueueSize sets the capacity of the [Channel.Messages] channel.
// Default: 16.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// Channel is an open connection to a relay server. SendChunk, Close and Err
// are safe for concurrent use.
type Channel struct {
	ws   *websocket.Conn
	log  *slog.Logger
	msgs chan protocol.Message
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closing   atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to the relay at url (ws:// or http://).
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	o := options{log: slog.Default(), queueSize: 16}
	for _, fn := range opts {
		fn(&o)
	}

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	// Downstream messages are small JSON objects.
	ws.SetReadLimit(1 << 20)

	chCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		ws:     ws,
		log:    o.log,
		msgs:   make(chan protocol.Message, o.queueSize),
		done:   make(chan struct{}),
		ctx:    chCtx,
		cancel: cancel,
	}
	go c.receiveLoop()
	return c, nil
}

// SendChunk sends one audio chunk as a single binary frame.
func (c *Channel) SendChunk(ctx context.Context, chunk []byte) error {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		if c.closing.Load() {
			return ErrClosed
		}
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Messages returns the downstream message stream. It is closed when the
// channel terminates; [Channel.Err] then reports why.
func (c *Channel) Messages() <-chan protocol.Message {
	return c.msgs
}

// Done is closed when the channel has terminated.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the *Error that terminated the channel, or nil while it is open
// or after a local [Channel.Close].
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close performs a normal close handshake and waits for the receive loop to
// exit. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		if err := c.ws.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			c.log.Debug("transport: close handshake", "err", err)
		}
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *Channel) receiveLoop() {
	defer close(c.done)
	defer close(c.msgs)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if !c.closing.Load() && c.ctx.Err() == nil {
				c.setErr(&Error{Op: "receive", Err: err})
			}
			return
		}
		if typ != websocket.MessageText {
			c.log.Debug("transport: ignoring binary frame", "len", len(data))
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("transport: dropping undecodable message", "err", err)
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
