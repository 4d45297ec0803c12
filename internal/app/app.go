// Package app wires the livescribe server subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New builds the transcription chain,
// the relay handler and the HTTP mux; Run serves until its context ends; and
// Shutdown drains connections in order.
//
// For testing, inject a transcriber or a listener via functional options.
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/relay"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// DefaultShutdownTimeout bounds [App.Run]'s graceful shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes of the relay server.
type App struct {
	cfg            *config.Config
	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler

	transcriber stt.Transcriber
	available   func() bool
	handler     *relay.Handler
	relay       *relay.Server
	health      *health.Handler
	srv         *http.Server
	listener    net.Listener

	// lifetime bounds every in-flight transcription. It outlives client
	// connections and is cancelled last during Shutdown.
	lifetime       context.Context
	cancelLifetime context.CancelFunc

	shutdownTimeout time.Duration
	stopOnce        sync.Once
	stopErr         error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcriber instead of building the backend chain
// from config.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry records into t and serves its registry on /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.metricsHandler = t.MetricsHandler()
	}
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithShutdownTimeout bounds the graceful shutdown performed by Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// New creates an App from cfg. Backends are instantiated through reg unless
// [WithTranscriber] is given.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:             cfg,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if a.transcriber == nil {
		chain, err := buildTranscriber(cfg.Transcription, reg, a.metrics, a.log)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.transcriber = chain
		a.available = chain.Available
		a.log.Info("transcription backends ready", "backends", chain.States())
	} else {
		a.available = func() bool { return true }
	}

	a.lifetime, a.cancelLifetime = context.WithCancel(context.Background())

	a.handler = relay.NewHandler(a.transcriber,
		relay.WithMaxBufferBytes(cfg.Server.BufferLimit()),
		relay.WithTimeout(cfg.Transcription.Timeout),
		relay.WithBackendName(cfg.Transcription.Backend.Name),
		relay.WithMetrics(a.metrics),
		relay.WithLogger(a.log),
		relay.WithLifetime(a.lifetime),
	)
	a.relay = relay.NewServer(a.handler)
	a.health = health.New(health.Transcribers(a.available))

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	mux.Handle("/", a.relay)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics, a.log)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.srv.Addr, err)
		}
	}
	a.log.Info("relay listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, closes every open WebSocket with
// status 1001 (going away) and waits for in-flight transcriptions. When ctx
// expires first, in-flight calls are cancelled and ctx.Err() is returned.
// Subsequent calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "connections", a.relay.Len())
		a.health.SetDraining(true)

		// Hijacked WebSocket connections are not tracked by http.Server, so
		// this only stops the listener and idle HTTP connections.
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}
		a.relay.CloseAll("server shutting down")

		done := make(chan struct{})
		go func() {
			a.handler.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded, cancelling in-flight transcriptions")
			a.stopErr = ctx.Err()
		}
		a.cancelLifetime()
		<-done

		a.log.Info("shutdown complete")
	})
	return a.stopErr
}

// States reports the circuit breaker state per backend, or nil when the
// transcriber was injected.
func (a *App) States() map[string]resilience.State {
	if chain, ok := a.transcriber.(*resilience.TranscriberFallback); ok {
		return chain.States()
	}
	return nil
}
