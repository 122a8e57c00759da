package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const headerReadTimeout = 5 * time.Minute

// Server owns the single TCP acceptor. Each accepted connection is served on
// its own goroutine by net/http, which keeps that session's requests
// strictly serialized while sessions progress in parallel.
type Server struct {
	service *Service
	port    int
}

// NewServer wires the service behind the acceptor.
func NewServer(service *Service, port int) *Server {
	return &Server{service: service, port: port}
}

// Run binds 0.0.0.0:port on IPv4 and serves until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)

	lc := net.ListenConfig{
		Control: func(network, address string, conn syscall.RawConn) error {
			var sockErr error
			err := conn.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		return fmt.Errorf("could not open socket: %w", err)
	}

	log.Infof("server running on %s", addr)

	server := &http.Server{
		Handler:           s.recoverMiddleware(s.service),
		ReadHeaderTimeout: headerReadTimeout,
	}
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// recoverMiddleware prevents a panicking handler from taking the daemon down.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
