// Package document extracts plain text from uploaded resumes.
package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// ErrUnsupported is returned for file types that cannot be extracted.
var ErrUnsupported = errors.New("unsupported document type")

// Extensions lists the file extensions Extract understands.
var Extensions = []string{".pdf", ".docx", ".txt"}

// Supported reports whether name has an extractable extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract returns the text of a document, choosing the parser from the
// file extension.
func Extract(name string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("extract %s: text is not valid UTF-8", name)
		}
		text = string(data)
	case ".pdf":
		text, err = extractPDF(data)
	case ".docx":
		text, err = extractDocx(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("extract %s: no text found", name)
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return docxText(doc.Editable().GetContent())
}

// docxText reduces WordprocessingML to its character data, one line per
// paragraph.
func docxText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				sb.WriteString("\t")
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String(), nil
}
