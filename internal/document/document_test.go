package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestLoadSinglePNG(t *testing.T) {
	payload := pngBytes(t)

	doc, err := Load(payload)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(doc.Pages))
	}
	if !bytes.Equal(doc.Pages[0], payload) {
		t.Fatal("page bytes differ from payload")
	}
}

func TestLoadSingleJPEG(t *testing.T) {
	doc, err := Load(jpegBytes(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(doc.Pages))
	}
}

func TestLoadZipKeepsPageOrder(t *testing.T) {
	payload := zipBytes(t, map[string][]byte{
		"page-02.png": []byte("second"),
		"page-03.png": []byte("third"),
		"page-01.png": []byte("first"),
	})

	doc, err := Load(payload)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(doc.Pages) != len(want) {
		t.Fatalf("pages = %d, want %d", len(doc.Pages), len(want))
	}
	for i, content := range want {
		if string(doc.Pages[i]) != content {
			t.Fatalf("page %d = %q, want %q", i+1, doc.Pages[i], content)
		}
	}
}

func TestLoadZipSkipsNonPageEntries(t *testing.T) {
	payload := zipBytes(t, map[string][]byte{
		"scans/page-01.jpeg":    []byte("the page"),
		"scans/":                nil,
		"scans/.DS_Store":       []byte("junk"),
		"__MACOSX/page-01.jpeg": []byte("resource fork"),
		"notes.txt":             []byte("operator notes"),
	})

	doc, err := Load(payload)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(doc.Pages) != 1 || string(doc.Pages[0]) != "the page" {
		t.Fatalf("pages = %d, want only the real page image", len(doc.Pages))
	}
}

func TestLoadZipWithoutImages(t *testing.T) {
	payload := zipBytes(t, map[string][]byte{"readme.txt": []byte("no pages here")})

	if _, err := Load(payload); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	if _, err := Load([]byte("just some text, not a scan")); !errors.Is(err, ErrUnreadableDocument) {
		t.Fatalf("err = %v, want ErrUnreadableDocument", err)
	}
}

func TestLoadRejectsEmptyPayload(t *testing.T) {
	if _, err := Load(nil); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestCountPagesMatchesLoad(t *testing.T) {
	payloads := map[string][]byte{
		"png": pngBytes(t),
		"jpeg": jpegBytes(t),
		"zip": zipBytes(t, map[string][]byte{
			"page-01.png": []byte("one"),
			"page-02.png": []byte("two"),
		}),
	}
	for name, payload := range payloads {
		n, err := CountPages(payload)
		if err != nil {
			t.Fatalf("%s: CountPages returned error: %v", name, err)
		}
		doc, err := Load(payload)
		if err != nil {
			t.Fatalf("%s: Load returned error: %v", name, err)
		}
		if n != len(doc.Pages) {
			t.Fatalf("%s: CountPages = %d, Load produced %d pages", name, n, len(doc.Pages))
		}
	}
}

func TestCountPagesRejectsUnknownFormat(t *testing.T) {
	if _, err := CountPages([]byte("garbage payload")); !errors.Is(err, ErrUnreadableDocument) {
		t.Fatalf("err = %v, want ErrUnreadableDocument", err)
	}
}
