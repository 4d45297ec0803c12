// Package relay implements the server side of the livescribe transport: one
// [Handler] drives every accepted connection, accumulating upstream audio
// chunks and flushing them to an [stt.Transcriber].
//
// The flush policy is eager retry-by-accumulation. Every chunk is appended to
// the connection's buffer and triggers a transcription of the whole buffer. A
// successful attempt sends a transcription message and drops the transcribed
// bytes; a failed attempt sends an error message and keeps them, so the next
// chunk retries everything accumulated since the last success.
//
// At most one transcription is in flight per connection. A single worker
// goroutine owns all flushes; chunks arriving while it is busy are appended
// and coalesced into one follow-up flush.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/protocol"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// ErrBufferLimit is returned by [Handler.Serve] when a connection's
// accumulation buffer would exceed the configured maximum.
var ErrBufferLimit = errors.New("relay: accumulation buffer limit exceeded")

// DefaultMaxBufferBytes bounds the accumulation buffer when no explicit limit
// is configured. It matches the upload limit of common hosted backends.
const DefaultMaxBufferBytes = 25 << 20

// DefaultTimeout bounds a single transcription call.
const DefaultTimeout = 60 * time.Second

// sendTimeout bounds a single downstream write.
const sendTimeout = 10 * time.Second

// State is the lifecycle state of a connection.
type State int

const (
	// StateOpen accepts chunks and delivers results.
	StateOpen State = iota

	// StateClosing means the transport is gone but a transcription may still
	// be in flight. Its result will be discarded.
	StateClosing

	// StateClosed means the flush worker has exited.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMaxBufferBytes sets the accumulation buffer bound. Zero or a negative
// value disables the bound.
func WithMaxBufferBytes(n int) Option {
	return func(h *Handler) { h.maxBuffer = n }
}

// WithTimeout sets the per-call transcription timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithBackendName sets the backend label used in metrics.
func WithBackendName(name string) Option {
	return func(h *Handler) { h.backend = name }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithLifetime sets the context transcription calls are derived from.
// Cancelling it aborts in-flight calls on every connection; a client
// disconnect does not. Defaults to [context.Background].
func WithLifetime(ctx context.Context) Option {
	return func(h *Handler) { h.lifetime = ctx }
}

// Handler serves connections against a shared transcriber. It holds no
// per-connection state and is safe for concurrent use.
type Handler struct {
	transcriber stt.Transcriber
	maxBuffer   int
	timeout     time.Duration
	backend     string
	metrics     *observe.Metrics
	log         *slog.Logger
	lifetime    context.Context

	workers sync.WaitGroup
}

// NewHandler creates a Handler that transcribes with t.
func NewHandler(t stt.Transcriber, opts ...Option) *Handler {
	h := &Handler{
		transcriber: t,
		maxBuffer:   DefaultMaxBufferBytes,
		timeout:     DefaultTimeout,
		backend:     "default",
		lifetime:    context.Background(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// Serve runs one connection until its transport closes. ctx is the
// connection's context and is used for reads and downstream writes.
//
// Serve returns nil when the client goes away and [ErrBufferLimit] when the
// connection was closed for exceeding the buffer bound. A transcription still
// in flight when Serve returns keeps running; see [Handler.Wait].
func (h *Handler) Serve(ctx context.Context, id string, conn Conn) error {
	c := h.newConnection(ctx, id, conn)
	return c.serve()
}

// Wait blocks until every flush worker started by this handler has exited.
func (h *Handler) Wait() {
	h.workers.Wait()
}

// connection is the per-transport state: the accumulation buffer, the
// lifecycle state, and the flush worker's wakeup signal.
type connection struct {
	id   string
	h    *Handler
	conn Conn
	ctx  context.Context
	log  *slog.Logger

	// wake has capacity one; a pending value means "flush again".
	wake chan struct{}
	// gone is closed when the reader stops.
	gone chan struct{}
	// exited is closed when the flush worker returns.
	exited chan struct{}

	mu    sync.Mutex
	state State
	buf   []byte
}

func (h *Handler) newConnection(ctx context.Context, id string, conn Conn) *connection {
	return &connection{
		id:     id,
		h:      h,
		conn:   conn,
		ctx:    ctx,
		log:    h.log.With("conn_id", id),
		wake:   make(chan struct{}, 1),
		gone:   make(chan struct{}),
		exited: make(chan struct{}),
		state:  StateOpen,
	}
}

func (c *connection) serve() error {
	m := c.h.metrics
	m.ActiveConnections.Add(c.ctx, 1)
	defer m.ActiveConnections.Add(context.WithoutCancel(c.ctx), -1)

	c.log.Info("connection opened")

	c.h.workers.Add(1)
	go c.flushLoop()

	err := c.readLoop()

	c.mu.Lock()
	discarded := len(c.buf)
	c.state = StateClosing
	c.buf = nil
	c.mu.Unlock()
	close(c.gone)

	c.log.Info("connection closed", "discarded_bytes", discarded)
	return err
}

// readLoop appends chunks until the transport fails or the buffer bound is
// hit. Transport errors end the connection normally.
func (c *connection) readLoop() error {
	for {
		chunk, err := c.conn.ReadChunk(c.ctx)
		if err != nil {
			c.log.Debug("read loop ended", "err", err)
			return nil
		}
		if len(chunk) == 0 {
			continue
		}
		c.h.metrics.RecordChunk(c.ctx, len(chunk))

		if err := c.append(chunk); err != nil {
			c.log.Warn("closing connection", "err", err)
			c.send(protocol.Error(err.Error()))
			_ = c.conn.Close(websocket.StatusMessageTooBig, "audio buffer limit exceeded")
			return err
		}
	}
}

// append adds chunk to the buffer and requests a flush.
func (c *connection) append(chunk []byte) error {
	c.mu.Lock()
	if limit := c.h.maxBuffer; limit > 0 && len(c.buf)+len(chunk) > limit {
		size := len(c.buf)
		c.mu.Unlock()
		return fmt.Errorf("%w: %d buffered + %d received > %d bytes", ErrBufferLimit, size, len(chunk), limit)
	}
	c.buf = append(c.buf, chunk...)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
		// A flush is already pending and will see this chunk.
	}
	return nil
}

func (c *connection) flushLoop() {
	defer c.h.workers.Done()
	defer func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.exited)
	}()

	for {
		select {
		case <-c.gone:
			return
		case <-c.wake:
			c.flush()
		}
	}
}

// flush transcribes a snapshot of the whole buffer and reports the outcome
// downstream. Only the flush worker calls it.
func (c *connection) flush() {
	c.mu.Lock()
	if c.state != StateOpen || len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	// Appends only write past len, so the capped slice stays stable while
	// the backend reads it.
	snapshot := c.buf[:len(c.buf):len(c.buf)]
	c.mu.Unlock()

	ctx := c.h.lifetime
	if c.h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.h.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "relay.flush", trace.WithAttributes(
		attribute.String("conn_id", c.id),
		attribute.String("backend", c.h.backend),
		attribute.Int("buffer.bytes", len(snapshot)),
	))
	defer span.End()
	log := observe.Logger(ctx, c.log)

	start := time.Now()
	res, err := c.h.transcriber.Transcribe(ctx, snapshot)
	elapsed := time.Since(start)

	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		err = stt.Wrap(c.h.backend, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
	}
	c.h.metrics.RecordFlush(ctx, c.h.backend, status, elapsed.Seconds(), len(snapshot))

	c.mu.Lock()
	open := c.state == StateOpen
	if open && err == nil {
		c.dropPrefix(len(snapshot))
	}
	remaining := len(c.buf)
	c.mu.Unlock()

	if !open {
		c.h.metrics.DroppedResults.Add(ctx, 1)
		log.Debug("discarding late result", "err", err)
		return
	}

	if err != nil {
		log.Warn("transcription failed, keeping buffer",
			"buffered_bytes", remaining, "duration", elapsed, "err", err)
		c.send(protocol.Error(err.Error()))
		return
	}
	log.Debug("transcribed buffer",
		"bytes", len(snapshot), "chars", len(res.Text), "duration", elapsed)
	c.send(protocol.Transcription(res.Text))
}

// dropPrefix removes the first n bytes. Must be called with c.mu held.
func (c *connection) dropPrefix(n int) {
	if n >= len(c.buf) {
		c.buf = nil
		return
	}
	rest := make([]byte, len(c.buf)-n)
	copy(rest, c.buf[n:])
	c.buf = rest
}

// send writes msg downstream. A failed write means the client is gone; the
// reader notices that on its own, so the error is only logged.
func (c *connection) send(msg protocol.Message) {
	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()
	if err := c.conn.Send(ctx, msg); err != nil {
		c.log.Debug("downstream send failed", "type", msg.Type, "err", err)
	}
}
