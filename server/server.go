package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/gofcgi/fcgid/fastcgi"
)

// Server accepts TCP connections and serves each one as a FastCGI
// responder connection, per Config.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	handler fastcgi.Handler

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}

	connCount    uint64
	requestCount uint64
}

// New builds a Server for cfg. If logger is nil, a production zap logger
// at cfg.LogLevel is constructed.
func New(cfg Config, handler fastcgi.Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		built, err := newLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = built
	}
	if cfg.Acceptors < 1 {
		cfg.Acceptors = 1
	}
	return &Server{cfg: cfg, logger: logger, handler: handler, ready: make(chan struct{})}, nil
}

// Addr blocks until the listener is bound (or ctx is done) and returns its
// address. Useful when Config.Listen uses the ":0" ephemeral port.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr(), nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zapLevel
	return zcfg.Build()
}

// Serve binds Config.Listen and runs Config.Acceptors accept-loop
// goroutines, each handing an accepted connection to its own
// fastcgi.Conn served in a goroutine of its own. It blocks until ctx is
// cancelled, then closes the listener and waits for the accept loops and
// the counter logger to return. An acceptor whose Accept fails stops, but
// Serve still waits for ctx; connections already being served are not
// waited for.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("acceptors", s.cfg.Acceptors))

	handler := withCounting(s.handler, &s.requestCount)
	if s.cfg.RequestTimeout > 0 {
		handler = withTimeout(handler, time.Duration(s.cfg.RequestTimeout))
	}

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Acceptors; i++ {
		wg.Add(1)
		go func(acceptorID int) {
			defer wg.Done()
			s.acceptLoop(ctx, ln, handler, acceptorID)
		}(i)
	}

	if interval := time.Duration(s.cfg.CounterInterval); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logCounters(ctx, interval)
		}()
	}

	<-ctx.Done()
	_ = ln.Close()
	wg.Wait()
	return ctx.Err()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handler fastcgi.Handler, acceptorID int) {
	logger := s.logger.With(zap.Int("acceptor", acceptorID))
	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warn("accept failed", zap.Error(err))
				return
			}
		}

		atomic.AddUint64(&s.connCount, 1)
		conn := fastcgi.NewConn(netConn, handler, s.logger)
		go conn.Serve(ctx)
	}
}

func (s *Server) logCounters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("server counters",
				zap.String("connections", humanize.Comma(int64(atomic.LoadUint64(&s.connCount)))),
				zap.String("requests", humanize.Comma(int64(atomic.LoadUint64(&s.requestCount)))),
			)
		}
	}
}

// withCounting wraps h to increment *counter once per completed exchange,
// feeding the periodic counters line in logCounters.
func withCounting(h fastcgi.Handler, counter *uint64) fastcgi.Handler {
	return fastcgi.HandlerFunc(func(ctx context.Context, req *fastcgi.Request, resp *fastcgi.Response) error {
		err := h.Serve(ctx, req, resp)
		atomic.AddUint64(counter, 1)
		return err
	})
}

// withTimeout wraps h so every Serve invocation runs under a context
// deadline of d, rather than the connection's (potentially unbounded)
// lifetime context.
func withTimeout(h fastcgi.Handler, d time.Duration) fastcgi.Handler {
	return fastcgi.HandlerFunc(func(ctx context.Context, req *fastcgi.Request, resp *fastcgi.Response) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h.Serve(ctx, req, resp)
	})
}
