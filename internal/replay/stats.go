// Stats endpoint: GET /harbinger/stats returns replay counters as JSON.
package replay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics collects in-memory replay counters.
type Metrics struct {
	startedAt time.Time

	served  atomic.Int64
	misses  atomic.Int64
	proxied atomic.Int64
	blocked atomic.Int64
	control atomic.Int64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// Record bumps the counter for one outcome.
func (m *Metrics) Record(outcome string) {
	switch outcome {
	case "served":
		m.served.Add(1)
	case "miss":
		m.misses.Add(1)
	case "proxied":
		m.proxied.Add(1)
	case "blocked":
		m.blocked.Add(1)
	case "control":
		m.control.Add(1)
	}
}

// StatsResponse is the JSON response for GET /harbinger/stats.
type StatsResponse struct {
	Uptime  string `json:"uptime"`
	Entries int    `json:"entries"`
	Clients int    `json:"clients"`
	Replay  struct {
		Served  int64 `json:"served"`
		Misses  int64 `json:"misses"`
		Proxied int64 `json:"proxied"`
		Blocked int64 `json:"blocked"`
		Control int64 `json:"control"`
	} `json:"replay"`
	AccessLog struct {
		Served  int64 `json:"served"`
		Misses  int64 `json:"misses"`
		Proxied int64 `json:"proxied"`
		Blocked int64 `json:"blocked"`
	} `json:"access_log"`
}

// handleStats returns aggregated counters. Restricted to localhost; the
// access log reveals which capture is being replayed.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var resp StatsResponse
	resp.Uptime = time.Since(s.metrics.startedAt).Truncate(time.Second).String()
	resp.Clients = s.registry.Len()
	if n, err := s.store.Count(); err == nil {
		resp.Entries = n
	}
	resp.Replay.Served = s.metrics.served.Load()
	resp.Replay.Misses = s.metrics.misses.Load()
	resp.Replay.Proxied = s.metrics.proxied.Load()
	resp.Replay.Blocked = s.metrics.blocked.Load()
	resp.Replay.Control = s.metrics.control.Load()

	if sum, err := s.store.AccessSummary(); err == nil {
		resp.AccessLog.Served = sum.Served
		resp.AccessLog.Misses = sum.Misses
		resp.AccessLog.Proxied = sum.Proxied
		resp.AccessLog.Blocked = sum.Blocked
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// isLoopback reports whether the remote address is a loopback interface.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
