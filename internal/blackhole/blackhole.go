// Package blackhole refuses everything.
//
// DESIGN: The browser under replay is pointed at this server as its HTTP(S)
// proxy. Any request that escapes the interception layer lands here, gets
// logged loudly, and dies - the network-level guarantee that no replayed page
// ever reaches a real origin, even when the rewriting layer fails.
package blackhole

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Server answers every request with a refusal.
type Server struct {
	Port     int
	refusals atomic.Int64
}

// New returns a blackhole listening on port when run.
func New(port int) *Server {
	return &Server{Port: port}
}

// Refusals returns how many requests have been swallowed.
func (s *Server) Refusals() int64 {
	return s.refusals.Load()
}

// ServeHTTP logs the escape attempt and refuses it. CONNECT gets the same
// treatment, so HTTPS tunnels die before a handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.refusals.Add(1)
	log.Warn().
		Str("method", r.Method).
		Str("host", r.Host).
		Str("url", r.URL.String()).
		Str("remote", r.RemoteAddr).
		Msg("blackhole: refused egress attempt")
	http.Error(w, "refused by harbinger blackhole", http.StatusBadGateway)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("localhost:%d", s.Port),
		Handler:     s,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.Port).Msg("blackhole listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
