// Package replay serves a recorded capture back to a browser.
//
// DESIGN: Request flow:
//   - control paths:     served directly from embedded assets
//   - /<ns>/<host>/...:  archive lookup, scrubbed headers, recorded body
//   - everything else:   the interceptor classifies and either forwards the
//     rewritten request back into this server or blocks it
//
// The server also maintains the client registry the interceptor attributes
// relative requests with: every navigation served under the namespace pins
// the issuing client to that location.
package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/archive"
	"github.com/harbinger-dev/harbinger/internal/clientctx"
	"github.com/harbinger-dev/harbinger/internal/config"
	"github.com/harbinger-dev/harbinger/internal/control"
	"github.com/harbinger-dev/harbinger/internal/intercept"
	"github.com/harbinger-dev/harbinger/internal/vhost"
)

// Server is the replay endpoint all rewritten requests target.
type Server struct {
	cfg         *config.Config
	codec       *vhost.Codec
	store       *archive.Store
	registry    *clientctx.Registry
	interceptor *intercept.Interceptor
	events      *EventHub
	metrics     *Metrics
	entryPath   string // local path of the capture's primary origin root
	proxy       *http.Client
}

// New wires a replay server around an already-loaded store.
func New(cfg *config.Config, codec *vhost.Codec, store *archive.Store, originHost string) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		codec:    codec,
		store:    store,
		registry: clientctx.NewRegistry(),
		events:   NewEventHub(),
		metrics:  NewMetrics(),
	}

	if originHost != "" {
		entry, err := codec.Encode(originHost, "/", "")
		if err != nil {
			return nil, err
		}
		s.entryPath = entry
	} else {
		s.entryPath = "/"
	}

	if cfg.Replay.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.Replay.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		s.proxy = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		log.Info().Str("proxy", cfg.Replay.ProxyURL).Msg("live-proxy fallback enabled for archive misses")
	}

	// The interceptor forwards rewritten requests back into this server.
	s.interceptor = intercept.New(codec, s.registry, nil)
	return s, nil
}

// Registry exposes the client table, mainly for tests.
func (s *Server) Registry() *clientctx.Registry { return s.registry }

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(control.IndexPath, s.handleIndex)
	mux.HandleFunc(control.AppScript, s.handleAppScript)
	mux.HandleFunc(control.WorkerScript, s.handleWorkerScript)
	mux.HandleFunc(control.Manifest, s.handleManifest)
	mux.HandleFunc(control.EventsPath, s.handleEvents)
	mux.HandleFunc(control.StatsPath, s.handleStats)
	mux.HandleFunc("/", s.handleRoot)
	return withClientCookie(mux)
}

// handleRoot covers everything that is not a control path: namespace paths
// serve recorded entries, anything else goes through the interceptor.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		// Bare root redirects into the bootstrap page.
		http.Redirect(w, r, control.IndexPath, http.StatusFound)
		return
	}
	if s.codec.Contains(r.URL.Path) {
		s.serveEntry(w, r)
		return
	}
	// A request reaching us outside the namespace was issued by a page the
	// worker is not (yet) covering. The interceptor applies the same rules
	// the worker would have.
	s.interceptor.ServeHTTP(http.HandlerFunc(s.handleUnrouted)).ServeHTTP(w, r)
}

// handleUnrouted is the pass-through tail for non-namespace requests the
// interceptor chose not to rewrite. Control paths never land here (the mux
// catches them), so all that remains is a miss.
func (s *Server) handleUnrouted(w http.ResponseWriter, r *http.Request) {
	s.recordAccess(r, "miss", http.StatusNotFound)
	http.NotFound(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Sentinel, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("entry", s.entryPath).Msg("replay server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
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

// recordAccess writes one access-log row and bumps the in-memory counters.
func (s *Server) recordAccess(r *http.Request, outcome string, status int) {
	host, path := "", r.URL.Path
	if h, p, _, err := s.codec.Decode(r.URL.Path); err == nil {
		host, path = h, p
	}
	s.metrics.Record(outcome)
	s.store.RecordAccess(archive.AccessEvent{
		RequestID: r.Header.Get(intercept.HeaderRequestID),
		Method:    r.Method,
		Host:      host,
		Path:      path,
		Outcome:   outcome,
		Status:    status,
	})
	s.events.Publish(Event{
		Type:   outcome,
		Method: r.Method,
		Host:   host,
		Path:   path,
		Status: status,
	})
}

// withClientCookie tags every browser context with a stable client ID so the
// interceptor can attribute its relative requests.
func withClientCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(intercept.ClientCookie); err != nil {
			id := uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     intercept.ClientCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: false,
				SameSite: http.SameSiteLaxMode,
				Expires:  time.Now().Add(24 * time.Hour),
			})
			r.AddCookie(&http.Cookie{Name: intercept.ClientCookie, Value: id})
		}
		next.ServeHTTP(w, r)
	})
}

// isNavigation reports whether r looks like a document load rather than a
// subresource fetch.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
