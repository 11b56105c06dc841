// Package dump exports recorded response bodies to a directory tree.
//
// DESIGN: Each GET entry lands at <out>/<host>/<path>, with __index__
// standing in for directory paths, the same layout the replay server reads
// body overrides from - dump, edit, serve. An index.json manifest is built
// alongside, one record per written file.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/harbinger-dev/harbinger/internal/har"
)

// ErrPathExists guards against clobbering a previous dump.
type ErrPathExists struct {
	Path string
}

func (e *ErrPathExists) Error() string {
	return fmt.Sprintf("dump path %q exists, refusing to overwrite", e.Path)
}

// EntryPath returns the on-disk location for an entry's body below base.
func EntryPath(base string, e *har.Entry) (string, error) {
	u, err := e.URL()
	if err != nil {
		return "", err
	}
	rel := filepath.Join(u.Host, filepath.FromSlash(strings.TrimPrefix(u.Path, "/")))
	if strings.HasSuffix(u.Path, "/") {
		rel = filepath.Join(rel, "__index__")
	}
	return filepath.Join(base, rel), nil
}

// Dump writes every GET entry's body under outPath and a manifest beside
// them. Refuses an existing outPath.
func Dump(a *har.Archive, outPath string) error {
	if _, err := os.Stat(outPath); err == nil {
		return &ErrPathExists{Path: outPath}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(outPath, 0o750); err != nil {
		return err
	}

	manifest := []byte(`{"entries":[]}`)
	written := 0

	for i := range a.Entries {
		e := &a.Entries[i]
		if e.Request.Method != "GET" {
			log.Debug().Str("method", e.Request.Method).Str("url", e.Request.URL).
				Msg("skipping non-GET entry")
			continue
		}

		path, err := EntryPath(outPath, e)
		if err != nil {
			log.Warn().Str("url", e.Request.URL).Err(err).Msg("skipping unparseable entry")
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		body := e.Body()
		if err := os.WriteFile(path, body, 0o640); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		rel, _ := filepath.Rel(outPath, path)
		record := map[string]interface{}{
			"url":       e.Request.URL,
			"file":      filepath.ToSlash(rel),
			"status":    e.Response.Status,
			"mime_type": e.Response.Content.MimeType,
			"bytes":     len(body),
		}
		manifest, err = sjson.SetBytes(manifest, fmt.Sprintf("entries.%d", written), record)
		if err != nil {
			return fmt.Errorf("building manifest: %w", err)
		}
		written++
	}

	if err := os.WriteFile(filepath.Join(outPath, "index.json"), manifest, 0o640); err != nil {
		return err
	}
	log.Info().Int("entries", written).Str("path", outPath).Msg("dump complete")
	return nil
}
