// Package har reads exported HTTP archives (HAR 1.2) into replayable entries.
//
// DESIGN: The file is probed with gjson before committing to a full decode,
// so a clearly unsupported archive fails fast with a typed error instead of a
// partial unmarshal. Response bodies may be base64-encoded; the content
// encoding field is honored when present, with a decode-or-raw fallback for
// archives that omit it.
package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/harbinger-dev/harbinger/internal/urlx"
)

// ErrUnsupportedVersion reports an archive that is not HAR 1.2.
type ErrUnsupportedVersion struct {
	Version string
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported HAR version %q (want 1.2)", e.Version)
}

// EntryError reports a single malformed archive entry.
type EntryError struct {
	URL    string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("invalid HAR entry %q: %s", e.URL, e.Reason)
}

// Header is one recorded request or response header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entry is one recorded request/response pair.
type Entry struct {
	PageRef string `json:"pageref"`
	Request struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
	Response struct {
		Status  int      `json:"status"`
		Headers []Header `json:"headers"`
		Content struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"content"`
	} `json:"response"`
}

// URL returns the entry's recorded request URL in structured form.
func (e *Entry) URL() (*urlx.URL, error) {
	u, ok := urlx.ParseAbsolute(e.Request.URL)
	if !ok {
		return nil, &EntryError{URL: e.Request.URL, Reason: "request URL is not absolute"}
	}
	return u, nil
}

// Hostname returns the original hostname the entry was captured under.
func (e *Entry) Hostname() (string, error) {
	u, err := e.URL()
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// ResponseHeader returns the first response header with the given
// lowercase name, or "".
func (e *Entry) ResponseHeader(name string) string {
	for _, h := range e.Response.Headers {
		if strings.ToLower(h.Name) == name {
			return h.Value
		}
	}
	return ""
}

// Body returns the decoded response body. Honors content.encoding when set;
// otherwise attempts a base64 decode and falls back to the raw text, matching
// how capturing tools in the wild actually populate the field.
func (e *Entry) Body() []byte {
	text := e.Response.Content.Text
	if text == "" {
		return nil
	}
	if e.Response.Content.Encoding == "base64" {
		if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
			return decoded
		}
		log.Warn().Str("url", e.Request.URL).Msg("entry marked base64 but body did not decode")
		return []byte(text)
	}
	if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
		return decoded
	}
	return []byte(text)
}

// Archive is a parsed HAR capture.
type Archive struct {
	PageID  string
	Entries []Entry
}

// Read loads and parses the archive at path.
func Read(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return Parse(data)
}

// Parse decodes a HAR 1.2 document.
func Parse(data []byte) (*Archive, error) {
	version := gjson.GetBytes(data, "log.version").String()
	if version != "1.2" {
		return nil, &ErrUnsupportedVersion{Version: version}
	}

	var doc struct {
		Log struct {
			Pages []struct {
				ID string `json:"id"`
			} `json:"pages"`
			Entries []Entry `json:"entries"`
		} `json:"log"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding archive: %w", err)
	}

	a := &Archive{Entries: doc.Log.Entries}
	if len(doc.Log.Pages) > 0 {
		a.PageID = doc.Log.Pages[0].ID
		if len(doc.Log.Pages) > 1 {
			log.Warn().Int("pages", len(doc.Log.Pages)).
				Msg("multiple HAR pages not supported, only using first page")
		}
		for _, e := range a.Entries {
			if e.PageRef != "" && e.PageRef != a.PageID {
				log.Warn().Str("url", e.Request.URL).Str("pageref", e.PageRef).
					Str("page", a.PageID).Msg("entry belongs to a different page")
			}
		}
	}
	return a, nil
}

// OriginHost returns the hostname of the first entry, which anchors the
// capture's primary origin.
func (a *Archive) OriginHost() (string, error) {
	if len(a.Entries) == 0 {
		return "", fmt.Errorf("archive has no entries")
	}
	return a.Entries[0].Hostname()
}
