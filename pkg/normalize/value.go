package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// ExcerptLimit bounds the raw text quoted in error messages.
const ExcerptLimit = 100

// Value is a normalized stage output. It is never mutated after creation.
type Value struct {
	Shape     Shape
	canonical []byte
	// Data is the decoded value: map[string]any, []any or string. Numbers
	// decode as json.Number.
	Data any
}

// Canonical returns the compact JSON text of the value, or the cleaned text
// for ShapeText. Normalizing it again yields an equal value.
func (v *Value) Canonical() string {
	if v == nil {
		return ""
	}
	return string(v.canonical)
}

// MarshalJSON embeds the value directly; text values become JSON strings.
func (v *Value) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	if v.Shape == ShapeText {
		return json.Marshal(string(v.canonical))
	}
	return append([]byte(nil), v.canonical...), nil
}

// Error reports a reply that could not be coerced into the expected shape.
type Error struct {
	Shape  Shape
	Raw    string
	Reason string
	Err    error
}

func newError(shape Shape, raw, reason string, err error) *Error {
	return &Error{Shape: shape, Raw: raw, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("normalize %s: %s", e.Shape, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (raw: %q)", msg, e.Excerpt())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Excerpt returns at most ExcerptLimit runes of the raw reply.
func (e *Error) Excerpt() string {
	return Truncate(e.Raw, ExcerptLimit)
}

// Truncate shortens s to limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// CompileSchema loads a JSON schema from inline JSON or a file path.
func CompileSchema(src string) (*gojsonschema.Schema, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("schema is empty")
	}

	var loader gojsonschema.JSONLoader
	if strings.HasPrefix(src, "{") {
		loader = gojsonschema.NewStringLoader(src)
	} else {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("schema file: %w", err)
		}
		loader = gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs))
	}

	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
