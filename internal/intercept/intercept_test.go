package intercept

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbinger-dev/harbinger/internal/clientctx"
	"github.com/harbinger-dev/harbinger/internal/urlx"
	"github.com/harbinger-dev/harbinger/internal/vhost"
)

func testCodec(t *testing.T, pinned string) *vhost.Codec {
	t.Helper()
	c, err := vhost.New("localhost", 8000, "srv", pinned)
	require.NoError(t, err)
	return c
}

// fakeResolver is a deterministic stand-in for the runtime's client table.
type fakeResolver struct {
	locations map[string]clientctx.Location
}

func (f *fakeResolver) Resolve(ctx context.Context, clientID string) (clientctx.Location, error) {
	if loc, ok := f.locations[clientID]; ok && clientID != "" {
		return loc, nil
	}
	return clientctx.Location{}, clientctx.ErrNoContext
}

func newTestInterceptor(t *testing.T, pinned string, locations map[string]clientctx.Location) *Interceptor {
	t.Helper()
	return New(testCodec(t, pinned), &fakeResolver{locations: locations}, nil)
}

func TestClassifyControlPaths(t *testing.T) {
	// Control paths pass through regardless of issuing client state.
	i := newTestInterceptor(t, "", nil)
	for _, clientID := range []string{"", "unknown", "c1"} {
		for _, u := range []string{
			"/harbinger_worker.js",
			"/harbinger",
			"/harbinger_manifest.json",
			"http://localhost:8000/harbinger_app.js",
		} {
			d := i.Classify(context.Background(), &Request{Method: "GET", URL: u, ClientID: clientID})
			assert.Equal(t, PassThrough, d.Outcome, "url %q client %q", u, clientID)
		}
	}
}

func TestClassifyAbsoluteCrossOrigin(t *testing.T) {
	// Absolute non-local URLs carry their own virtual host; no client
	// lookup happens (nil locations would fail one).
	i := newTestInterceptor(t, "", nil)

	d := i.Classify(context.Background(), &Request{Method: "GET", URL: "https://example.com/a.png"})
	require.Equal(t, Rewritten, d.Outcome)
	assert.Equal(t, "example.com", d.Host)
	assert.Equal(t, "http://localhost:8000/srv/example.com/a.png", d.Target)
}

func TestClassifyAbsoluteWithQuery(t *testing.T) {
	i := newTestInterceptor(t, "", nil)
	d := i.Classify(context.Background(), &Request{Method: "GET", URL: "https://example.com/search?q=1&r=2"})
	require.Equal(t, Rewritten, d.Outcome)
	assert.Equal(t, "http://localhost:8000/srv/example.com/search?q=1&r=2", d.Target)
}

func TestClassifyIdempotence(t *testing.T) {
	// An already-rewritten URL re-entering the pipeline is never rewritten
	// a second time.
	i := newTestInterceptor(t, "", nil)
	for _, u := range []string{
		"/srv/example.com/b.js",
		"http://localhost:8000/srv/example.com/b.js",
		"http://localhost:8000/srv/example.com/",
	} {
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: u})
		assert.Equal(t, PassThrough, d.Outcome, "url %q", u)
	}
}

func TestClassifyRelativeWithClientContext(t *testing.T) {
	i := newTestInterceptor(t, "", map[string]clientctx.Location{
		"c1": {Host: "localhost", Path: "/srv/example.com/"},
		"c2": {Host: "localhost", Path: "/srv/other.net/dir/page.html"},
	})

	t.Run("rooted fetch", func(t *testing.T) {
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/b.js", ClientID: "c1"})
		require.Equal(t, Rewritten, d.Outcome)
		assert.Equal(t, "example.com", d.Host)
		assert.Equal(t, "http://localhost:8000/srv/example.com/b.js", d.Target)
	})

	t.Run("sibling fetch resolves against frame path", func(t *testing.T) {
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "b.js", ClientID: "c2"})
		require.Equal(t, Rewritten, d.Outcome)
		assert.Equal(t, "other.net", d.Host)
		assert.Equal(t, "http://localhost:8000/srv/other.net/dir/b.js", d.Target)
	})

	t.Run("local absolute attributed to frame", func(t *testing.T) {
		d := i.Classify(context.Background(), &Request{
			Method: "GET", URL: "http://localhost:8000/api/items", ClientID: "c1",
		})
		require.Equal(t, Rewritten, d.Outcome)
		assert.Equal(t, "http://localhost:8000/srv/example.com/api/items", d.Target)
	})
}

func TestClassifyBlocked(t *testing.T) {
	i := newTestInterceptor(t, "", map[string]clientctx.Location{
		"root": {Host: "localhost", Path: "/"},
		"c1":   {Host: "localhost", Path: "/srv/example.com/dir/page.html"},
	})

	t.Run("no client", func(t *testing.T) {
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/b.js"})
		require.Equal(t, Blocked, d.Outcome)
		var ae *AttributionError
		assert.ErrorAs(t, d.Err, &ae)
	})

	t.Run("unknown client", func(t *testing.T) {
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/b.js", ClientID: "ghost"})
		require.Equal(t, Blocked, d.Outcome)
	})

	t.Run("client at bare local root", func(t *testing.T) {
		// The frame has no virtual host yet; guessing is forbidden.
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/b.js", ClientID: "root"})
		require.Equal(t, Blocked, d.Outcome)
		var ae *AttributionError
		require.ErrorAs(t, d.Err, &ae)
		assert.Contains(t, ae.Reason, "no virtual host")
	})

	t.Run("unresolvable reference", func(t *testing.T) {
		// A reference that does not parse must block, never collapse onto
		// the attributed origin's root.
		d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/a%zz", ClientID: "c1"})
		require.Equal(t, Blocked, d.Outcome)
		var re *urlx.ResolutionError
		assert.ErrorAs(t, d.Err, &re)
		assert.Empty(t, d.Target)
	})
}

func TestClassifyPinnedUnresolvableReferenceBlocks(t *testing.T) {
	// Pinned mode attributes freely but still refuses a malformed reference.
	i := newTestInterceptor(t, "example.com", nil)
	d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/a%zz"})
	require.Equal(t, Blocked, d.Outcome)
	var re *urlx.ResolutionError
	assert.ErrorAs(t, d.Err, &re)
}

func TestClassifyPinnedOrigin(t *testing.T) {
	// A pinned deployment attributes everything ambiguous to the single
	// recorded origin, even with no client context at all.
	i := newTestInterceptor(t, "example.com", nil)

	d := i.Classify(context.Background(), &Request{Method: "GET", URL: "/b.js"})
	require.Equal(t, Rewritten, d.Outcome)
	assert.Equal(t, "http://localhost:8000/srv/example.com/b.js", d.Target)

	// Absolute cross-origin URLs still rewrite to their own host.
	d = i.Classify(context.Background(), &Request{Method: "GET", URL: "https://cdn.net/x.js"})
	require.Equal(t, Rewritten, d.Outcome)
	assert.Equal(t, "cdn.net", d.Host)
}

func TestClassifyInvalidHostBlocks(t *testing.T) {
	i := newTestInterceptor(t, "", nil)
	d := i.Classify(context.Background(), &Request{Method: "GET", URL: "https://bad_host_!/x"})
	// Not parseable as absolute, no client context: blocked either way.
	assert.Equal(t, Blocked, d.Outcome)
}

func TestForwardPreservesRequest(t *testing.T) {
	var gotMethod, gotPath, gotBody, gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.RequestURI()
		gotHeader = r.Header.Get("X-Custom")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("stored"))
	}))
	defer upstream.Close()

	i := newTestInterceptor(t, "", nil)
	req := &Request{
		ID:     "req-1",
		Method: "POST",
		URL:    "https://example.com/api",
		Header: http.Header{"X-Custom": {"v"}, "Connection": {"keep-alive"}},
		Body:   io.NopCloser(strings.NewReader(`{"a":1}`)),
	}

	resp, err := i.Forward(context.Background(), req, upstream.URL+"/srv/example.com/api?x=1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/srv/example.com/api?x=1", gotPath)
	assert.Equal(t, "v", gotHeader)
	assert.Equal(t, `{"a":1}`, gotBody)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
}

func TestForwardAbortPropagates(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer upstream.Close()

	i := newTestInterceptor(t, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := i.Forward(ctx, &Request{Method: "GET", URL: "https://example.com/slow"}, upstream.URL)
	var fe *ForwardingError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServeHTTPBlockedWritesSyntheticFailure(t *testing.T) {
	// A relative request with no attributable client must produce a
	// synthetic failure, never a network call.
	i := newTestInterceptor(t, "", nil)
	called := false
	h := i.ServeHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest("GET", "/b.js", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "interception_blocked")
}

func TestServeHTTPPassThrough(t *testing.T) {
	i := newTestInterceptor(t, "", nil)
	called := false
	h := i.ServeHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/harbinger_worker.js", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("GET", "/a?x=1", nil)
	r.AddCookie(&http.Cookie{Name: ClientCookie, Value: "c9"})
	r.Header.Set(HeaderRequestID, "rid-1")

	req := FromHTTP(r)
	assert.Equal(t, "rid-1", req.ID)
	assert.Equal(t, "c9", req.ClientID)
	assert.Equal(t, "/a?x=1", req.URL)

	// Without the header a fresh ID is generated.
	r2 := httptest.NewRequest("GET", "/a", nil)
	req2 := FromHTTP(r2)
	assert.NotEmpty(t, req2.ID)
}

func TestForwardTimeoutSurfacesAsForwardingError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	i := newTestInterceptor(t, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := i.Forward(ctx, &Request{Method: "GET", URL: "https://example.com/x"}, upstream.URL)
	var fe *ForwardingError
	assert.ErrorAs(t, err, &fe)
}
