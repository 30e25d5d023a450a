package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Server owns the listening socket and spawns one Handler.Serve goroutine
// per accepted connection, tracking them so shutdown can wait for a clean
// drain — the same accept-loop/wg/sync.Map shape the teacher's
// RedisServer uses, trimmed to what this server actually needs (no AOF,
// cluster, or RDB auto-save bookkeeping).
type Server struct {
	addr    string
	handler *Handler
	log     *logrus.Entry

	listener    net.Listener
	connections sync.Map
	connCounter atomic.Int64
	wg          sync.WaitGroup

	mu         sync.Mutex
	isShutdown bool
}

// NewServer builds a Server that will listen on host:port.
func NewServer(host string, port int, handler *Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		addr:    net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		handler: handler,
		log:     log,
	}
}

// Run listens and accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("conn: listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", s.addr).Info("listening")

	go s.acceptLoop(ctx)

	<-ctx.Done()
	s.shutdown()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shuttingDown := s.isShutdown
			s.mu.Unlock()
			if shuttingDown || ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		id := s.connCounter.Add(1)
		s.connections.Store(id, nc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.connections.Delete(id)
			s.handler.Serve(ctx, nc)
		}()
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.connections.Range(func(_, v interface{}) bool {
		if nc, ok := v.(net.Conn); ok {
			nc.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("all connections closed")
	case <-time.After(5 * time.Second):
		s.log.Warn("shutdown timeout reached, forcing exit")
	}
}
