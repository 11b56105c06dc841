// Control assets: the bootstrap page, app script, manifest, and the
// interception worker, embedded at build time. The worker script is a
// template; installation parameters are substituted when it is served so the
// in-browser rewriting layer and this server always agree.
package replay

import (
	"embed"
	"net/http"
	"strconv"
	"strings"
)

//go:embed static
var staticFS embed.FS

func (s *Server) asset(name string) []byte {
	data, err := staticFS.ReadFile("static/" + name)
	if err != nil {
		// Embedded files are part of the binary; absence is a build defect.
		panic("missing embedded asset " + name)
	}
	return data
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.serveControl(w, r, "text/html; charset=utf-8", s.asset("index.html"))
}

func (s *Server) handleAppScript(w http.ResponseWriter, r *http.Request) {
	body := strings.ReplaceAll(string(s.asset("harbinger_app.js")),
		"HARBINGER_TMPL_ENTRY", s.entryPath)
	s.serveControl(w, r, "application/javascript", []byte(body))
}

func (s *Server) handleWorkerScript(w http.ResponseWriter, r *http.Request) {
	body := string(s.asset("harbinger_worker.js"))
	body = strings.ReplaceAll(body, "HARBINGER_TMPL_PORT", strconv.Itoa(s.codec.Port))
	body = strings.ReplaceAll(body, "HARBINGER_TMPL_ORIGIN_HOST", s.codec.Pinned)
	body = strings.ReplaceAll(body, "HARBINGER_TMPL_NAMESPACE", s.codec.Namespace)
	// Required for a worker registered with scope "/" from a script at root.
	w.Header().Set("Service-Worker-Allowed", "/")
	s.serveControl(w, r, "application/javascript", []byte(body))
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	s.serveControl(w, r, "application/manifest+json", s.asset("harbinger_manifest.json"))
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	s.recordAccess(r, "control", http.StatusOK)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}
