// Package vhost maps original (hostname, path) pairs onto the replay server's
// local namespace and back.
//
// DESIGN: The scheme is /<namespace>/<hostname>/<original-path>, with the
// original query string carried through unmodified. A hostname can never
// contain "/", so the hostname always occupies exactly one path segment and
// two distinct origins can never collide onto the same local path. The source
// system grew three near-identical rewriting variants (pinned single origin,
// registry of hosts, client-context attribution); they collapse here into one
// codec with an optional pinned host.
package vhost

import (
	"fmt"
	"strings"
)

// CodecError reports a hostname or namespace incompatible with the reversible
// encoding. Detected at construction time it is a configuration defect and
// should abort installation.
type CodecError struct {
	Value  string
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("vhost codec: %q: %s", e.Value, e.Reason)
}

// ErrNotEncoded reports a local path that does not live under the namespace.
type ErrNotEncoded struct {
	Path string
}

func (e *ErrNotEncoded) Error() string {
	return fmt.Sprintf("path %q is not under the replay namespace", e.Path)
}

// Codec encodes original origins into the local namespace.
type Codec struct {
	Sentinel  string // local replay hostname, e.g. "localhost"
	Port      int    // local replay port
	Namespace string // path prefix segment, e.g. "srv"
	Pinned    string // optional single pinned virtual host; empty = multi-host
}

// New validates the installation parameters and returns a codec. An invalid
// namespace or pinned host is fatal here rather than at request time.
func New(sentinel string, port int, namespace, pinned string) (*Codec, error) {
	if sentinel == "" {
		return nil, &CodecError{Value: sentinel, Reason: "empty sentinel hostname"}
	}
	namespace = strings.Trim(namespace, "/")
	if namespace == "" || strings.Contains(namespace, "/") {
		return nil, &CodecError{Value: namespace, Reason: "namespace must be a single path segment"}
	}
	if pinned != "" && !ValidHost(pinned) {
		return nil, &CodecError{Value: pinned, Reason: "pinned origin host is not a valid hostname"}
	}
	return &Codec{Sentinel: sentinel, Port: port, Namespace: namespace, Pinned: pinned}, nil
}

// ValidHost reports whether h can survive the round trip: non-empty, lower
// ASCII letters, digits, dots and hyphens only. Anything else (and in
// particular "/") would break injectivity.
func ValidHost(h string) bool {
	if h == "" {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Prefix returns the namespace prefix including surrounding slashes.
func (c *Codec) Prefix() string {
	return "/" + c.Namespace + "/"
}

// Contains reports whether localPath is already inside the rewritten
// namespace. Such paths are never rewritten a second time.
func (c *Codec) Contains(localPath string) bool {
	return strings.HasPrefix(localPath, c.Prefix())
}

// Encode maps an original (host, path, query) onto a local path. The query is
// appended verbatim; distinct queries on one path deliberately share a replay
// entry downstream.
func (c *Codec) Encode(host, path, query string) (string, error) {
	if !ValidHost(host) {
		return "", &CodecError{Value: host, Reason: "hostname incompatible with encoding"}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	local := c.Prefix() + host + path
	if query != "" {
		local += "?" + query
	}
	return local, nil
}

// EncodeURL is Encode with the sentinel authority prepended, producing the
// absolute URL the forwarded request targets.
func (c *Codec) EncodeURL(host, path, query string) (string, error) {
	local, err := c.Encode(host, path, query)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d%s", c.Sentinel, c.Port, local), nil
}

// Decode recovers the original (host, path) from a local path. The query
// string, if present, is returned separately and unmodified.
func (c *Codec) Decode(localPath string) (host, path, query string, err error) {
	if i := strings.IndexByte(localPath, '?'); i >= 0 {
		query = localPath[i+1:]
		localPath = localPath[:i]
	}
	if !c.Contains(localPath) {
		return "", "", "", &ErrNotEncoded{Path: localPath}
	}
	rest := localPath[len(c.Prefix()):]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		// Bare "/srv/example.com" encodes the origin root.
		host, path = rest, "/"
	} else {
		host, path = rest[:i], rest[i:]
	}
	if !ValidHost(host) {
		return "", "", "", &ErrNotEncoded{Path: localPath}
	}
	return host, path, query, nil
}
