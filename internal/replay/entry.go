// Serving recorded entries.
//
// DESIGN: A namespace path decodes to (virtual host, original path); the
// archive is keyed on that plus the method, never the query string. Recorded
// response headers are relayed minus the set that would fight the replay
// (frame blocking, CORS, stale content-length/encoding), Location headers are
// rewritten into the namespace so recorded redirects stay inside replay, and
// a permissive same-origin CSP is injected the way the capture's security
// headers are stripped: the page must behave as if it were at home.
package replay

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/archive"
	"github.com/harbinger-dev/harbinger/internal/clientctx"
	"github.com/harbinger-dev/harbinger/internal/intercept"
	"github.com/harbinger-dev/harbinger/internal/urlx"
)

// Response headers never relayed from the archive. Security headers are
// overridden; content-specific ones may be stale after body overrides.
var unforwardedHeaders = map[string]struct{}{
	"x-frame-options":                  {},
	"x-content-type-options":           {},
	"x-xss-protection":                 {},
	"access-control-allow-origin":      {},
	"access-control-allow-credentials": {},
	"content-security-policy":          {},
	"strict-transport-security":        {},
	"content-encoding":                 {},
	"transfer-encoding":                {},
	"content-length":                   {},
}

// replayCSP keeps every subresource on this origin while allowing the inline
// scripts and styles captures inevitably contain.
var replayCSP = strings.Join([]string{
	"base-uri 'self'",
	"default-src * 'unsafe-inline'",
	"frame-src 'self'",
	"worker-src 'self'",
	"manifest-src 'self'",
}, "; ")

func (s *Server) serveEntry(w http.ResponseWriter, r *http.Request) {
	host, origPath, _, err := s.codec.Decode(r.URL.Path)
	if err != nil {
		s.recordAccess(r, "miss", http.StatusNotFound)
		http.NotFound(w, r)
		return
	}

	// Navigations pin the issuing client to this location; its relative
	// fetches are attributed here until the next navigation.
	if isNavigation(r) {
		if c, err := r.Cookie(intercept.ClientCookie); err == nil {
			s.registry.Set(c.Value, clientctx.Location{
				Host: s.codec.Sentinel,
				Path: r.URL.Path,
			})
		}
	}

	entry, err := s.store.Lookup(r.Method, host, origPath)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			s.serveMiss(w, r, host, origPath)
			return
		}
		log.Error().Err(err).Str("host", host).Str("path", origPath).Msg("archive lookup failed")
		s.recordAccess(r, "miss", http.StatusInternalServerError)
		http.Error(w, "archive lookup failed", http.StatusInternalServerError)
		return
	}

	s.writeEntry(w, r, entry)
}

func (s *Server) writeEntry(w http.ResponseWriter, r *http.Request, entry *archive.Entry) {
	for _, h := range entry.Headers {
		name := strings.ToLower(h.Name)
		if _, skip := unforwardedHeaders[name]; skip {
			continue
		}
		if name == "location" {
			w.Header().Set("Location", s.rewriteLocation(entry.Host, h.Value))
			continue
		}
		w.Header().Add(h.Name, h.Value)
	}
	w.Header().Set("Content-Security-Policy", replayCSP)

	body := entry.Body
	if override, ok := s.overrideBody(entry); ok {
		body = override
	}

	s.recordAccess(r, "served", entry.Status)
	w.WriteHeader(entry.Status)
	_, _ = w.Write(body)
}

// rewriteLocation maps a recorded redirect target back into the namespace.
// Absolute targets re-encode under their own hostname; relative ones stay on
// the entry's virtual host.
func (s *Server) rewriteLocation(host, location string) string {
	if u, ok := urlx.ParseAbsolute(location); ok {
		if local, err := s.codec.Encode(u.Host, u.Path, u.Query); err == nil {
			return local
		}
		return location
	}
	if !strings.HasPrefix(location, "/") {
		location = "/" + location
	}
	if local, err := s.codec.Encode(host, location, ""); err == nil {
		return local
	}
	return location
}

// overrideBody loads a body override from the dump path when one exists. A
// dumped tree mirrors host/path with __index__ standing in for directories.
func (s *Server) overrideBody(entry *archive.Entry) ([]byte, bool) {
	if s.cfg.Replay.DumpPath == "" {
		return nil, false
	}
	rel := filepath.Join(entry.Host, filepath.FromSlash(strings.TrimPrefix(entry.Path, "/")))
	if strings.HasSuffix(entry.Path, "/") {
		rel = filepath.Join(rel, "__index__")
	}
	path := filepath.Join(s.cfg.Replay.DumpPath, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	log.Info().Str("host", entry.Host).Str("path", entry.Path).Str("file", path).
		Msg("loading body from override file")
	return data, true
}

// serveMiss handles a namespace path with no recorded entry: live-proxied to
// the original origin when a proxy is configured, 404 otherwise. The proxy is
// the only sanctioned egress path and is expected to be the blackhole unless
// the operator says otherwise.
func (s *Server) serveMiss(w http.ResponseWriter, r *http.Request, host, origPath string) {
	if s.proxy == nil {
		log.Warn().Str("host", host).Str("path", origPath).Msg("no recorded entry")
		s.recordAccess(r, "miss", http.StatusNotFound)
		http.NotFound(w, r)
		return
	}

	target := "https://" + host + origPath
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		s.recordAccess(r, "miss", http.StatusBadGateway)
		http.Error(w, "invalid proxied target", http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()
	req.Header.Del("Cookie") // replay cookies are not the origin's cookies

	resp, err := s.proxy.Do(req)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("live proxy failed")
		s.recordAccess(r, "miss", http.StatusBadGateway)
		http.Error(w, "live proxy failed", http.StatusBadGateway)
		return
	}
	log.Info().Str("target", target).Int("status", resp.StatusCode).Msg("serving live-proxied response")
	s.recordAccess(r, "proxied", resp.StatusCode)
	intercept.Relay(w, resp)
}
