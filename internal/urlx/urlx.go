// Package urlx normalizes request URL strings into structured values.
//
// DESIGN: Every URL entering the interception path goes through Normalize().
// Absolute URLs parse on their own; anything else resolves against the issuing
// frame's current location. Failures come back as a typed ResolutionError so
// the interceptor can block instead of leaking a request.
package urlx

import (
	"fmt"
	"net/url"
	"strings"
)

// URL is the structured form of a request URL after normalization.
type URL struct {
	Scheme string
	Host   string // hostname only, no port
	Port   string // empty when the URL carries no explicit port
	Path   string
	Query  string // raw query string, no leading "?"
}

// String reassembles the URL. Mainly for logs and error context.
func (u *URL) String() string {
	s := u.Scheme + "://" + u.Host
	if u.Port != "" {
		s += ":" + u.Port
	}
	s += u.Path
	if u.Query != "" {
		s += "?" + u.Query
	}
	return s
}

// ResolutionError reports a URL that could not be normalized.
type ResolutionError struct {
	Raw    string
	Base   string
	Reason string
}

func (e *ResolutionError) Error() string {
	if e.Base != "" {
		return fmt.Sprintf("cannot resolve %q against %q: %s", e.Raw, e.Base, e.Reason)
	}
	return fmt.Sprintf("cannot resolve %q: %s", e.Raw, e.Reason)
}

// Normalizer resolves request URL strings. Sentinel is the local replay
// hostname; a resolution base must live on it to be trusted.
type Normalizer struct {
	Sentinel string
}

// ParseAbsolute parses raw as an absolute URL. The second return value is
// false when raw is relative (or otherwise not self-sufficient).
func ParseAbsolute(raw string) (*URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return fromStd(u), true
}

// Normalize turns raw into a structured URL. If raw is absolute the base is
// ignored. Otherwise raw is resolved against base, which must be non-nil and
// hosted on the sentinel; anything else is a ResolutionError. Never panics.
func (n *Normalizer) Normalize(raw string, base *URL) (*URL, error) {
	if u, ok := ParseAbsolute(raw); ok {
		return u, nil
	}

	if base == nil {
		return nil, &ResolutionError{Raw: raw, Reason: "relative URL with no resolution base"}
	}
	if !strings.EqualFold(base.Host, n.Sentinel) {
		return nil, &ResolutionError{Raw: raw, Base: base.String(), Reason: "resolution base is not local"}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return nil, &ResolutionError{Raw: raw, Base: base.String(), Reason: err.Error()}
	}

	baseStd := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: base.Path, RawQuery: base.Query}
	if base.Port != "" {
		baseStd.Host = base.Host + ":" + base.Port
	}
	return fromStd(baseStd.ResolveReference(ref)), nil
}

func fromStd(u *url.URL) *URL {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return &URL{
		Scheme: u.Scheme,
		Host:   strings.ToLower(u.Hostname()),
		Port:   u.Port(),
		Path:   path,
		Query:  u.RawQuery,
	}
}
