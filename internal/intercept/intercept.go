// Package intercept is the single entry point for every outgoing request.
//
// DESIGN: Per-request flow, one instance of state per request:
//
//	Received -> Classifying -> {PassThrough | Rewriting | Blocked} -> Forwarded -> Completed
//
// Classification runs the cheap control-path check first, then tries to treat
// the URL as self-sufficient (absolute, non-local), and only consults the
// client-context resolver when the request is relative or already local.
// Anything unattributable blocks with a synthetic failure instead of passing
// through: no request may silently escape replay.
package intercept

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/harbinger-dev/harbinger/internal/clientctx"
	"github.com/harbinger-dev/harbinger/internal/control"
	"github.com/harbinger-dev/harbinger/internal/urlx"
	"github.com/harbinger-dev/harbinger/internal/vhost"
)

// Outcome is the terminal classification of one intercepted request.
type Outcome int

const (
	// PassThrough serves the request untouched (control paths, already
	// rewritten URLs).
	PassThrough Outcome = iota
	// Rewritten forwards the request to the rewritten local target.
	Rewritten
	// Blocked answers with a synthetic failure; no network call is issued.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Rewritten:
		return "rewritten"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Request is one outgoing request as observed at the interception point.
// Treated as immutable; rewriting produces a new request.
type Request struct {
	ID       string
	Method   string
	URL      string // absolute or relative, exactly as issued
	Header   http.Header
	Body     io.ReadCloser
	ClientID string // issuing frame, empty when the request has no client
}

// Decision is the result of classifying one request.
type Decision struct {
	Outcome Outcome
	Host    string // resolved virtual host, when one was determined
	Target  string // absolute rewritten URL, set when Outcome == Rewritten
	Err     error  // classification failure, set when Outcome == Blocked
}

// Interceptor classifies and forwards outgoing requests. Configuration is
// fixed at construction; instances are safe for concurrent use because all
// per-request state lives in the Decision.
type Interceptor struct {
	codec    *vhost.Codec
	resolver clientctx.Resolver
	client   *http.Client
}

// New wires an interceptor. client may be nil, in which case forwarding uses
// a default client with no timeout (streaming responses must not be cut off).
func New(codec *vhost.Codec, resolver clientctx.Resolver, client *http.Client) *Interceptor {
	if client == nil {
		client = &http.Client{
			// Replayed pages depend on seeing recorded redirects themselves.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Interceptor{
		codec:    codec,
		resolver: resolver,
		client:   client,
	}
}

// Classify runs the classification state machine for one request. The only
// suspension point is the client-context lookup, and it is skipped whenever
// the URL is self-sufficient.
func (i *Interceptor) Classify(ctx context.Context, req *Request) Decision {
	// Control paths win over everything, regardless of client state.
	if path := rawPath(req.URL); control.IsControlPath(path) {
		return Decision{Outcome: PassThrough}
	}

	// Absolute non-local URLs carry their own virtual host; no suspension.
	if u, ok := urlx.ParseAbsolute(req.URL); ok {
		if !strings.EqualFold(u.Host, i.codec.Sentinel) {
			return i.rewrite(req, u.Host, u.Path, u.Query)
		}
		// Already local: inside the namespace means already rewritten.
		if i.codec.Contains(u.Path) {
			return Decision{Outcome: PassThrough}
		}
		return i.attribute(ctx, req, u.Path, u.Query)
	}

	// Relative URL: attribution requires the issuing frame's location.
	path, query := splitRawRef(req.URL)
	if control.IsControlPath(path) {
		return Decision{Outcome: PassThrough}
	}
	if i.codec.Contains(path) {
		return Decision{Outcome: PassThrough}
	}
	return i.attribute(ctx, req, path, query)
}

// attribute recovers the virtual host for a request that carries no usable
// origin information of its own.
func (i *Interceptor) attribute(ctx context.Context, req *Request, path, query string) Decision {
	// A pinned deployment replays exactly one recorded origin; everything
	// ambiguous belongs to it.
	if i.codec.Pinned != "" {
		return i.rewriteRelative(req, i.codec.Pinned, "/", path, query)
	}

	loc, err := i.resolver.Resolve(ctx, req.ClientID)
	if err != nil {
		return Decision{Outcome: Blocked, Err: &AttributionError{
			URL: req.URL, ClientID: req.ClientID, Reason: err.Error(),
		}}
	}

	host, basePath, _, err := i.codec.Decode(loc.Path)
	if err != nil {
		// Client sits at the bare local root: not yet attributable, and
		// guessing would risk routing to the wrong origin.
		return Decision{Outcome: Blocked, Err: &AttributionError{
			URL: req.URL, ClientID: req.ClientID, Reason: "client location carries no virtual host",
		}}
	}
	return i.rewriteRelative(req, host, basePath, path, query)
}

// rewriteRelative resolves (path, query) against the client's original
// location before encoding. A reference that cannot be resolved blocks; a
// guessed target could reach the wrong origin.
func (i *Interceptor) rewriteRelative(req *Request, host, basePath, path, query string) Decision {
	base := &urlx.URL{Scheme: "https", Host: host, Path: basePath}
	ref := path
	if query != "" {
		ref += "?" + query
	}
	n := &urlx.Normalizer{Sentinel: base.Host}
	resolved, err := n.Normalize(ref, base)
	if err != nil {
		return Decision{Outcome: Blocked, Host: host, Err: err}
	}
	return i.rewrite(req, resolved.Host, resolved.Path, resolved.Query)
}

func (i *Interceptor) rewrite(req *Request, host, path, query string) Decision {
	target, err := i.codec.EncodeURL(host, path, query)
	if err != nil {
		return Decision{Outcome: Blocked, Host: host, Err: err}
	}
	return Decision{Outcome: Rewritten, Host: host, Target: target}
}

// rawPath extracts the path component of a possibly relative URL string
// without a full parse, for the cheap control-path check.
func rawPath(raw string) string {
	path, _ := splitRawRef(raw)
	if u, ok := urlx.ParseAbsolute(raw); ok {
		return u.Path
	}
	return path
}

func splitRawRef(raw string) (path, query string) {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}
