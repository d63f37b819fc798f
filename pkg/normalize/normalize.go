// Package normalize turns free-form model replies into validated JSON values.
//
// Models are asked for "pure JSON" but routinely wrap it in markdown fences,
// prepend a sentence of preamble, or nest a requested list inside an object.
// Normalize tolerates those failures and reports everything else as an
// *Error that keeps the offending reply for diagnosis.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Shape is the syntactic form a normalized value must take.
type Shape string

const (
	ShapeObject Shape = "object"
	ShapeArray  Shape = "array"
	ShapeText   Shape = "text"
)

// ParseShape validates a shape name from a manifest.
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeObject:
		return ShapeObject, nil
	case ShapeArray:
		return ShapeArray, nil
	case ShapeText:
		return ShapeText, nil
	default:
		return "", fmt.Errorf("unknown shape %q", s)
	}
}

// Strategy selects how the JSON span is located inside a reply.
type Strategy int

const (
	// Greedy takes the first opening bracket to the last closing bracket.
	Greedy Strategy = iota
	// Balanced takes the first depth-balanced span that parses, and falls
	// back to Greedy when there is none.
	Balanced
)

func (s Strategy) String() string {
	switch s {
	case Greedy:
		return "greedy"
	case Balanced:
		return "balanced"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config string to a Strategy. Empty means Greedy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return Greedy, nil
	case "balanced":
		return Balanced, nil
	default:
		return Greedy, fmt.Errorf("unknown normalization strategy %q", s)
	}
}

// Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	strategy Strategy
	schema   *gojsonschema.Schema
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithStrategy sets the span extraction strategy.
func WithStrategy(s Strategy) Option {
	return func(n *Normalizer) {
		n.strategy = s
	}
}

// WithSchema validates every successfully parsed value against schema.
// A violation is reported as a normalization failure.
func WithSchema(schema *gojsonschema.Schema) Option {
	return func(n *Normalizer) {
		n.schema = schema
	}
}

// New creates a Normalizer. The zero configuration is Greedy with no schema.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{strategy: Greedy}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Normalize normalizes raw with the default greedy normalizer.
func Normalize(raw string, shape Shape) (*Value, error) {
	return defaultNormalizer.Normalize(raw, shape)
}

// Strategy returns the configured extraction strategy.
func (n *Normalizer) Strategy() Strategy {
	return n.strategy
}

// Normalize converts raw into a value of the requested shape.
func (n *Normalizer) Normalize(raw string, shape Shape) (*Value, error) {
	trimmed := strings.TrimSpace(raw)
	content := stripFences(trimmed)

	if shape == ShapeText {
		if content == "" {
			return nil, newError(shape, raw, "empty reply", nil)
		}
		return &Value{Shape: ShapeText, canonical: []byte(content), Data: content}, nil
	}

	opening, closing, err := brackets(shape)
	if err != nil {
		return nil, newError(shape, raw, err.Error(), nil)
	}

	var candidates []string
	if n.strategy == Balanced {
		if span, ok := balancedSpan(content, opening); ok {
			candidates = append(candidates, span)
		}
	}
	if span, ok := greedySpan(content, opening, closing); ok {
		candidates = append(candidates, span)
	}
	candidates = append(candidates, content)
	if trimmed != content {
		candidates = append(candidates, trimmed)
	}

	var canonical []byte
	var parseErr error
	for _, candidate := range candidates {
		canonical, parseErr = compact(candidate)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return nil, newError(shape, raw, "no parseable JSON "+string(shape), parseErr)
	}

	canonical, err = coerce(canonical, shape)
	if err != nil {
		return nil, newError(shape, raw, err.Error(), nil)
	}

	if n.schema != nil {
		if err := validateSchema(n.schema, canonical); err != nil {
			return nil, newError(shape, raw, "schema validation failed", err)
		}
	}

	data, err := decode(canonical)
	if err != nil {
		return nil, newError(shape, raw, "decode", err)
	}
	return &Value{Shape: shape, canonical: canonical, Data: data}, nil
}

// coerce applies shape checks and the single documented correction: an
// array requested but an object returned yields the object's first
// array-valued member in document order, or an empty array.
func coerce(canonical []byte, shape Shape) ([]byte, error) {
	parsed := gjson.ParseBytes(canonical)
	switch shape {
	case ShapeObject:
		if !parsed.IsObject() {
			return nil, fmt.Errorf("expected object, got %s", kindOf(parsed))
		}
		return canonical, nil
	case ShapeArray:
		if parsed.IsArray() {
			return canonical, nil
		}
		if !parsed.IsObject() {
			return nil, fmt.Errorf("expected array, got %s", kindOf(parsed))
		}
		unwrapped := []byte("[]")
		parsed.ForEach(func(_, member gjson.Result) bool {
			if member.IsArray() {
				unwrapped = []byte(member.Raw)
				return false
			}
			return true
		})
		return compact(string(unwrapped))
	default:
		return nil, fmt.Errorf("unsupported shape %q", shape)
	}
}

func kindOf(r gjson.Result) string {
	switch {
	case r.IsObject():
		return "object"
	case r.IsArray():
		return "array"
	case r.Type == gjson.String:
		return "string"
	case r.Type == gjson.Number:
		return "number"
	case r.Type == gjson.True, r.Type == gjson.False:
		return "boolean"
	default:
		return "null"
	}
}

func brackets(shape Shape) (byte, byte, error) {
	switch shape {
	case ShapeObject:
		return '{', '}', nil
	case ShapeArray:
		return '[', ']', nil
	default:
		return 0, 0, fmt.Errorf("unsupported shape %q", shape)
	}
}

func compact(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty input")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	if !utf8.Valid(buf.Bytes()) {
		return nil, fmt.Errorf("invalid UTF-8")
	}
	return buf.Bytes(), nil
}

func decode(canonical []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func validateSchema(schema *gojsonschema.Schema, canonical []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(canonical))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
