// Package document turns an uploaded scan payload into per-page raster
// bytes for the recognition pipeline. A payload is either a single page
// image (PNG or JPEG) or a ZIP archive holding one image per page.
package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
)

var (
	// ErrUnreadableDocument marks a payload whose format could not be
	// recognized or whose archive could not be read. It is fatal for the
	// whole job, unlike per-page recognition failures.
	ErrUnreadableDocument = errors.New("document: unreadable or unsupported format")
	// ErrEmptyDocument marks a payload that contains no page images at all.
	ErrEmptyDocument = errors.New("document: no page images found")
)

// Document is a loaded scan. Pages holds the raw image bytes in page order.
type Document struct {
	Pages [][]byte
}

// CountPages reports how many pages the payload contains without extracting
// them, so submission can answer with a page total before processing starts.
func CountPages(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyDocument
	}
	switch kind := sniff(data); kind {
	case "image/png", "image/jpeg":
		return 1, nil
	case "application/zip":
		entries, err := imageEntries(data)
		if err != nil {
			return 0, err
		}
		return len(entries), nil
	default:
		return 0, fmt.Errorf("%w: detected %s", ErrUnreadableDocument, kind)
	}
}

// Load extracts every page image from the payload. Page order follows the
// archive entry names sorted lexically, so scanners that emit page-001.png,
// page-002.png keep their sheet order.
func Load(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	switch kind := sniff(data); kind {
	case "image/png", "image/jpeg":
		return &Document{Pages: [][]byte{data}}, nil
	case "application/zip":
		entries, err := imageEntries(data)
		if err != nil {
			return nil, err
		}
		doc := &Document{Pages: make([][]byte, 0, len(entries))}
		for _, entry := range entries {
			page, err := readEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %s: %v", ErrUnreadableDocument, entry.Name, err)
			}
			doc.Pages = append(doc.Pages, page)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: detected %s", ErrUnreadableDocument, kind)
	}
}

func sniff(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	kind := http.DetectContentType(head)
	// DetectContentType appends parameters for text types.
	if i := strings.IndexByte(kind, ';'); i >= 0 {
		kind = kind[:i]
	}
	return kind
}

// imageEntries walks the archive central directory and returns the page
// image entries sorted by name. Directories, resource forks and hidden
// files are skipped.
func imageEntries(data []byte) ([]*zip.File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", ErrUnreadableDocument, err)
	}
	entries := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isPageImage(f.Name) {
			continue
		}
		entries = append(entries, f)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyDocument
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func isPageImage(name string) bool {
	if strings.Contains(name, "__MACOSX") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(path.Ext(base)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
