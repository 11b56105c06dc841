// Package control holds the fixed set of reserved local paths that serve the
// interception machinery itself. These paths are consulted before any
// rewriting logic runs and are never eligible for rewriting.
package control

// Reserved control paths. The worker script path must stay in sync with the
// registration call in harbinger_app.js.
const (
	IndexPath    = "/harbinger"
	AppScript    = "/harbinger_app.js"
	WorkerScript = "/harbinger_worker.js"
	Manifest     = "/harbinger_manifest.json"
	EventsPath   = "/harbinger/events"
	StatsPath    = "/harbinger/stats"
)

var paths = map[string]struct{}{
	IndexPath:    {},
	AppScript:    {},
	WorkerScript: {},
	Manifest:     {},
	EventsPath:   {},
	StatsPath:    {},
}

// IsControlPath reports whether path is reserved for the interception
// machinery. Pure membership test, no side effects.
func IsControlPath(path string) bool {
	_, ok := paths[path]
	return ok
}

// Paths returns the reserved set, for documentation endpoints and tests.
func Paths() []string {
	return []string{IndexPath, AppScript, WorkerScript, Manifest, EventsPath, StatsPath}
}
