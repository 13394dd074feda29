package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posthog/ftexpose/transpiler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/posthog/ftexpose/server")

var connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ftexpose_connections_open",
	Help: "Number of currently open client connections",
})

var statementsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ftexpose_statements_total",
	Help: "Total number of SQL messages seen, by protocol message",
}, []string{"message"})

var statementsRewrittenCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ftexpose_statements_rewritten_total",
	Help: "Total number of SQL messages forwarded with rewritten SQL",
}, []string{"message"})

var parseFallbacksCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ftexpose_parse_fallbacks_total",
	Help: "Total number of SQL messages forwarded unchanged because they could not be parsed",
})

var analysisErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ftexpose_analysis_errors_total",
	Help: "Total number of statements left unchanged because they could not be analyzed",
})

var rewriteErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ftexpose_rewrite_errors_total",
	Help: "Total number of SQL messages forwarded unchanged because rewriting failed",
})

var rewriteDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ftexpose_rewrite_duration_seconds",
	Help:    "Time spent parsing, analyzing and rewriting SQL",
	Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
})

var upstreamDialErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ftexpose_upstream_dial_errors_total",
	Help: "Total number of failed connections to the upstream server",
})

var cancelRequestsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ftexpose_cancel_requests_total",
	Help: "Total number of cancel requests forwarded upstream",
})

// Rewriter turns client SQL into the SQL sent upstream.
type Rewriter interface {
	Transpile(sql string) (*transpiler.Result, error)
}

type Config struct {
	Host string
	Port int

	// Upstream is the host:port of the PostgreSQL server connections are
	// proxied to.
	Upstream string

	// DialTimeout bounds connecting to the upstream server (default: 10s).
	DialTimeout time.Duration

	// Graceful shutdown timeout used by Close (default: 30s)
	ShutdownTimeout time.Duration

	// IdleTimeout is the maximum time a client can go without sending a
	// message before its connection is closed. Default: 24 hours. Set to a
	// negative value (e.g., -1) to disable.
	IdleTimeout time.Duration

	// MetricsAddr is where /metrics is served. Empty disables it.
	MetricsAddr string
}

type Server struct {
	cfg      Config
	rewriter Rewriter

	listener    net.Listener
	wg          sync.WaitGroup
	closed      bool
	closeMu     sync.Mutex
	activeConns int64 // atomic counter for active connections

	connsMu sync.Mutex
	conns   map[*proxyConn]struct{}
}

func New(cfg Config, rewriter Rewriter) (*Server, error) {
	if cfg.Upstream == "" {
		return nil, fmt.Errorf("upstream address is required")
	}
	if rewriter == nil {
		return nil, fmt.Errorf("rewriter is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	// Use default shutdown timeout if not specified
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// Use default idle timeout if not specified (24 hours)
	// Negative value means explicitly disabled (set to 0)
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 24 * time.Hour
	} else if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}

	s := &Server{
		cfg:      cfg,
		rewriter: rewriter,
		conns:    make(map[*proxyConn]struct{}),
	}

	if cfg.IdleTimeout > 0 {
		slog.Info("Idle timeout enabled.", "timeout", cfg.IdleTimeout)
	} else {
		slog.Info("Idle timeout disabled.")
	}
	return s, nil
}

// Serve accepts connections on listener until the server is shut down.
func (s *Server) Serve(listener net.Listener) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.closeMu.Unlock()

	slog.Info("Proxy listening.", "addr", listener.Addr().String(), "upstream", s.cfg.Upstream)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.closeMu.Lock()
			closed := s.closed
			s.closeMu.Unlock()
			if closed {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("Accept error.", "error", err)
			continue
		}

		// Enable TCP keepalive to detect dead connections
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close shuts the server down, waiting up to ShutdownTimeout for clients.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown performs a graceful shutdown with the given context
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	s.closed = true
	listener := s.listener
	s.closeMu.Unlock()

	// Stop accepting new connections
	if listener != nil {
		_ = listener.Close()
	}

	// Check if there are active connections
	activeConns := atomic.LoadInt64(&s.activeConns)
	if activeConns > 0 {
		slog.Info("Waiting for active connections to finish.", "count", activeConns)
	}

	// Wait for connections with context
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		slog.Info("All connections closed gracefully.")
	case <-ctx.Done():
		slog.Warn("Shutdown context cancelled, force closing remaining connections.")
		s.closeAllConns()
		<-done
		err = ctx.Err()
	}

	slog.Info("Shutdown complete.")
	return err
}

// ActiveConnections returns the number of active connections
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

func (s *Server) trackConn(c *proxyConn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(c *proxyConn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.close()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr()

	atomic.AddInt64(&s.activeConns, 1)
	connectionsGauge.Inc()
	defer func() {
		atomic.AddInt64(&s.activeConns, -1)
		connectionsGauge.Dec()
	}()

	c := &proxyConn{
		server: s,
		client: conn,
	}
	s.trackConn(c)
	defer func() {
		s.untrackConn(c)
		c.close()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in connection handler.",
				"remote_addr", remoteAddr, "panic", r)
		}
	}()

	if err := c.serve(); err != nil {
		slog.Error("Connection error.", "remote_addr", remoteAddr, "error", err)
	}
}

// rewrite returns the SQL to forward for sql. Any failure forwards sql
// unchanged.
func (s *Server) rewrite(message, sql string) string {
	statementsCounter.WithLabelValues(message).Inc()

	_, span := tracer.Start(context.Background(), "ftexpose.rewrite",
		trace.WithAttributes(attribute.String("pg.message", message)))
	defer span.End()

	start := time.Now()
	result, err := s.rewriter.Transpile(sql)
	rewriteDurationHistogram.Observe(time.Since(start).Seconds())
	if err != nil {
		rewriteErrorsCounter.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		slog.Warn("Rewrite failed, forwarding original SQL.", "message", message, "error", err)
		return sql
	}
	span.SetAttributes(
		attribute.Bool("ftexpose.changed", result.Changed),
		attribute.Bool("ftexpose.parse_failed", result.ParseFailed),
		attribute.Int("ftexpose.analysis_errors", len(result.AnalysisErrors)),
	)

	if result.ParseFailed {
		parseFallbacksCounter.Inc()
	}
	if n := len(result.AnalysisErrors); n > 0 {
		analysisErrorsCounter.Add(float64(n))
	}
	if !result.Changed {
		return sql
	}

	statementsRewrittenCounter.WithLabelValues(message).Inc()
	slog.Debug("Rewrote SQL.", "message", message, "original", sql, "rewritten", result.SQL)
	return result.SQL
}
