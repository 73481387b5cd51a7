package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrSkip tells Stream to leave an entry out of the archive.
var ErrSkip = errors.New("zip: skip entry")

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// Entry is an archive member whose content is opened only when it is written.
type Entry struct {
	Filename string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// ArchiveAssets writes in-memory assets into a zip on w.
func ArchiveAssets(w io.Writer, assets []Asset) error {
	entries := make([]Entry, 0, len(assets))
	for _, asset := range assets {
		data := asset.Data
		entries = append(entries, Entry{
			Filename: asset.Filename,
			Modified: asset.Modified,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	_, err := Stream(w, entries)
	return err
}

// Stream writes entries into a zip on w one at a time, flushing after each so
// at most one member is held open. Images are already compressed so entries
// are stored, not deflated. Duplicate names get a numeric suffix. It returns
// the number of entries written.
func Stream(w io.Writer, entries []Entry) (int, error) {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	written := 0
	for _, e := range entries {
		rc, err := e.Open()
		if errors.Is(err, ErrSkip) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("zip: open %s: %w", e.Filename, err)
		}
		name := uniqueName(seen, e.Filename)
		err = copyEntry(zw, name, e.Modified, rc)
		_ = rc.Close()
		if err != nil {
			return written, err
		}
		if err := zw.Flush(); err != nil {
			return written, fmt.Errorf("zip: flush: %w", err)
		}
		written++
	}
	return written, zw.Close()
}

func copyEntry(zw *zip.Writer, name string, modified time.Time, r io.Reader) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: modified})
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", name, err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("zip: write %s: %w", name, err)
	}
	return nil
}

func uniqueName(seen map[string]int, name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
