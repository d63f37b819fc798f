package document

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractText(t *testing.T) {
	text, err := Extract("resume.TXT", []byte("  Ada Lovelace\nEngineer \n"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Ada Lovelace\nEngineer" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractRejects(t *testing.T) {
	if _, err := Extract("resume.png", []byte("x")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Extract("empty.txt", []byte("   ")); err == nil {
		t.Fatalf("expected error for empty document")
	}
	if _, err := Extract("bad.txt", []byte{0xff, 0xfe}); err == nil {
		t.Fatalf("expected error for invalid utf-8")
	}
	if _, err := Extract("broken.pdf", []byte("not a pdf")); err == nil {
		t.Fatalf("expected error for broken pdf")
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"cv.pdf":  true,
		"cv.DOCX": true,
		"cv.txt":  true,
		"cv.doc":  false,
		"cv":      false,
	} {
		if got := Supported(name); got != want {
			t.Fatalf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDocxText(t *testing.T) {
	content := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>Ada</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> Lovelace</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Go &amp; Python</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	text, err := docxText(content)
	if err != nil {
		t.Fatalf("docx text: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 || lines[0] != "Ada\t Lovelace" || lines[1] != "Go & Python" {
		t.Fatalf("unexpected text: %q", text)
	}
}
