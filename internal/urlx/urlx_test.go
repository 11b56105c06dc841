package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbsolute(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		host string
		path string
	}{
		{"https", "https://example.com/a.png", true, "example.com", "/a.png"},
		{"http with port", "http://localhost:8000/srv/example.com/", true, "localhost", "/srv/example.com/"},
		{"no path", "https://example.com", true, "example.com", "/"},
		{"uppercase host lowered", "https://EXAMPLE.com/a", true, "example.com", "/a"},
		{"relative path", "/b.js", false, "", ""},
		{"bare name", "b.js", false, "", ""},
		{"scheme only", "https://", false, "", ""},
		{"data url", "data:text/plain,hi", false, "", ""},
		{"ws scheme", "ws://example.com/socket", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := ParseAbsolute(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.host, u.Host)
				assert.Equal(t, tt.path, u.Path)
			}
		})
	}
}

func TestNormalizeAbsoluteIgnoresBase(t *testing.T) {
	n := &Normalizer{Sentinel: "localhost"}
	base := &URL{Scheme: "http", Host: "localhost", Port: "8000", Path: "/srv/example.com/"}

	u, err := n.Normalize("https://other.net/x", base)
	require.NoError(t, err)
	assert.Equal(t, "other.net", u.Host)
	assert.Equal(t, "/x", u.Path)
}

func TestNormalizeRelative(t *testing.T) {
	n := &Normalizer{Sentinel: "localhost"}
	base := &URL{Scheme: "http", Host: "localhost", Port: "8000", Path: "/srv/example.com/dir/page.html"}

	tests := []struct {
		name  string
		raw   string
		path  string
		query string
	}{
		{"rooted", "/b.js", "/b.js", ""},
		{"sibling", "b.js", "/srv/example.com/dir/b.js", ""},
		{"dotdot", "../c.css", "/srv/example.com/c.css", ""},
		{"query kept", "/f?x=1", "/f", "x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := n.Normalize(tt.raw, base)
			require.NoError(t, err)
			assert.Equal(t, "localhost", u.Host)
			assert.Equal(t, tt.path, u.Path)
			assert.Equal(t, tt.query, u.Query)
		})
	}
}

func TestNormalizeFailures(t *testing.T) {
	n := &Normalizer{Sentinel: "localhost"}

	t.Run("no base", func(t *testing.T) {
		_, err := n.Normalize("/b.js", nil)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
	})

	t.Run("non-local base", func(t *testing.T) {
		base := &URL{Scheme: "https", Host: "example.com", Path: "/"}
		_, err := n.Normalize("/b.js", base)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Contains(t, re.Error(), "not local")
	})
}
