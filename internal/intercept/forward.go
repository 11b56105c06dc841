// Forwarding and relaying for intercepted requests.
//
// DESIGN:
//   - Forward():       issue the rewritten request, body streamed not buffered
//   - Relay():         stream the response back verbatim
//   - writeBlocked():  synthetic failure response for the Blocked state
//
// The forwarded request inherits the original request's context, so a client
// abort cancels the in-flight upstream call instead of orphaning it.
package intercept

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Headers that must not be copied onto the forwarded request. Hop-by-hop per
// RFC 9110, plus Host which is derived from the target URL.
var unforwardedRequestHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
}

// HeaderRequestID carries the interception request ID to the replay server.
const HeaderRequestID = "X-Harbinger-Request-Id"

// Forward issues the network call to target, preserving method, headers and
// the original body stream. On failure the caller surfaces the error to the
// original requester; retries belong to the replay server, not here.
func (i *Interceptor) Forward(ctx context.Context, req *Request, target string) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, &ForwardingError{Target: target, Err: err}
	}
	for k, vs := range req.Header {
		if _, skip := unforwardedRequestHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out.Header[k] = vs
	}
	if req.ID != "" {
		out.Header.Set(HeaderRequestID, req.ID)
	}

	resp, err := i.client.Do(out)
	if err != nil {
		return nil, &ForwardingError{Target: target, Err: err}
	}
	return resp, nil
}

// Relay streams resp back to the original requester verbatim.
func Relay(w http.ResponseWriter, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	for k, vs := range resp.Header {
		w.Header()[k] = vs
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Msg("response relay interrupted")
	}
}

// writeBlocked delivers the synthetic failure for the Blocked terminal state.
func writeBlocked(w http.ResponseWriter, req *Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": err.Error(),
			"type":    "interception_blocked",
			"url":     req.URL,
		},
	})
}

// ServeHTTP adapts the interceptor to the server's request surface: classify,
// then pass through, forward, or block. The pass-through case falls to next,
// which serves control assets and namespace paths.
func (i *Interceptor) ServeHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := FromHTTP(r)
		d := i.Classify(r.Context(), req)

		switch d.Outcome {
		case PassThrough:
			next.ServeHTTP(w, r)

		case Rewritten:
			log.Debug().Str("request_id", req.ID).Str("url", req.URL).
				Str("vhost", d.Host).Str("target", d.Target).Msg("rewriting request")
			resp, err := i.Forward(r.Context(), req, d.Target)
			if err != nil {
				log.Error().Str("request_id", req.ID).Str("target", d.Target).Err(err).
					Msg("forwarding failed")
				writeBlocked(w, req, err)
				return
			}
			Relay(w, resp)

		case Blocked:
			log.Warn().Str("request_id", req.ID).Str("url", req.URL).
				Str("client_id", req.ClientID).Err(d.Err).Msg("request blocked")
			writeBlocked(w, req, d.Err)
		}
	})
}

// ClientCookie identifies the issuing browser context across requests.
const ClientCookie = "harbinger_client"

// FromHTTP lifts an incoming server request into the interception model. The
// client ID comes from the session cookie when present.
func FromHTTP(r *http.Request) *Request {
	id := r.Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.New().String()
	}
	clientID := ""
	if c, err := r.Cookie(ClientCookie); err == nil {
		clientID = c.Value
	}
	return &Request{
		ID:       id,
		Method:   r.Method,
		URL:      r.URL.RequestURI(),
		Header:   r.Header,
		Body:     r.Body,
		ClientID: clientID,
	}
}
