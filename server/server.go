package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/auth"
	"github.com/opd-ai/rfm/crypto"
	"github.com/opd-ai/rfm/file"
	"github.com/opd-ai/rfm/stats"
	"github.com/opd-ai/rfm/transport"
)

var (
	// ErrServerClosed is returned by Listen and Serve after Close.
	ErrServerClosed = errors.New("server closed")
	// ErrNotListening is returned by Serve before Listen.
	ErrNotListening = errors.New("server is not listening")
)

// Config holds everything a Server needs. Only Root is required.
type Config struct {
	// Root is the directory every session is confined to.
	Root string
	// Authority enables authentication when non-nil.
	Authority auth.Authority
	// Stats receives session and transfer statistics. A new collector is
	// created when nil.
	Stats *stats.Collector
	// Keys enables the Noise secure channel when non-nil.
	Keys *crypto.KeyPair
	// MaxConnections bounds concurrent sessions; zero means unbounded.
	MaxConnections int
	// IdleTimeout closes a session that sends nothing for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds every write to a client.
	WriteTimeout time.Duration
	// CompressLevel is the deflate level for downloads, 0 to store.
	CompressLevel int
}

// Server accepts connections and runs sessions.
type Server struct {
	root          string
	authority     auth.Authority
	stats         *stats.Collector
	keys          *crypto.KeyPair
	maxConns      int
	connOpts      transport.Options
	compressLevel int

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// New validates cfg and returns a Server. The root must be an existing
// directory.
func New(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("server root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("server root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("server root %s is not a directory", root)
	}

	if err := file.ValidateCompressLevel(cfg.CompressLevel); err != nil {
		return nil, err
	}

	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}

	return &Server{
		root:          root,
		authority:     cfg.Authority,
		stats:         collector,
		keys:          cfg.Keys,
		maxConns:      cfg.MaxConnections,
		connOpts:      transport.Options{ReadTimeout: cfg.IdleTimeout, WriteTimeout: cfg.WriteTimeout},
		compressLevel: cfg.CompressLevel,
		conns:         make(map[string]net.Conn),
		done:          make(chan struct{}),
	}, nil
}

// Root returns the absolute root directory.
func (s *Server) Root() string {
	return s.root
}

// Stats returns the server's statistics collector.
func (s *Server) Stats() *stats.Collector {
	return s.stats
}

// Listen binds addr.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	listener, err := transport.Listen(addr, s.maxConns)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called. It
// returns nil after an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return ErrNotListening
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"address":  listener.Addr().String(),
		"root":     s.root,
		"auth":     s.authority != nil,
		"secure":   s.keys != nil,
	}).Info("Server started")

	var backoff time.Duration
	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
				"retry_in": backoff.String(),
			}).Warn("Accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go s.ServeConn(ctx, nc)
	}
}

// ServeConn runs one session on an accepted connection and returns when it
// ends. The connection is always closed on return.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	id := uuid.NewString()
	if !s.track(id, nc) {
		nc.Close()
		return
	}
	defer s.untrack(id)
	// Covers a failed handshake; once the session starts it owns the
	// connection and closes it through its Conn.
	defer nc.Close()

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()

	remote := ""
	if ra := nc.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	entry := logrus.WithFields(logrus.Fields{
		"session": id,
		"remote":  remote,
	})

	if s.keys != nil {
		sc, err := transport.SecureServer(nc, s.keys)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Secure handshake failed")
			return
		}
		nc = sc
	}

	s.stats.SessionOpened()
	defer s.stats.SessionClosed()

	sess := newSession(ctx, s, id, transport.NewConn(nc, s.connOpts), entry)
	sess.run()
}

func (s *Server) track(id string, nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = nc
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.wg.Done()
}

// ActiveSessions returns the number of live connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, closes every live connection and waits for their
// sessions to finish. Only the first call has any effect.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	logrus.WithField("function", "Close").Info("Server stopped")
	return err
}
