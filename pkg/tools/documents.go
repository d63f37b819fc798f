package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/careerflow/pkg/adapter"
)

// DocumentSearch answers queries with the most relevant chunks of a single
// document. The index lives in memory for the lifetime of the value.
type DocumentSearch struct {
	collection string
	source     string
	chunks     []string
	vectors    [][]float32

	embedder       adapter.Embedder
	embeddingModel string
	topK           int
	chunkSize      int
	chunkOverlap   int
	logf           func(format string, args ...any)
}

// DocumentOption configures a DocumentSearch.
type DocumentOption func(*DocumentSearch)

// WithEmbedder ranks chunks by embedding similarity instead of term overlap.
func WithEmbedder(e adapter.Embedder, model string) DocumentOption {
	return func(d *DocumentSearch) {
		d.embedder = e
		d.embeddingModel = model
	}
}

// WithCollection names the in-memory index.
func WithCollection(name string) DocumentOption {
	return func(d *DocumentSearch) {
		if name != "" {
			d.collection = name
		}
	}
}

// WithTopK sets how many chunks a query returns.
func WithTopK(k int) DocumentOption {
	return func(d *DocumentSearch) {
		if k > 0 {
			d.topK = k
		}
	}
}

// WithChunking sets the chunk window and overlap in runes.
func WithChunking(size, overlap int) DocumentOption {
	return func(d *DocumentSearch) {
		d.chunkSize = size
		d.chunkOverlap = overlap
	}
}

// WithDocumentLogger sets the logger.
func WithDocumentLogger(logf func(format string, args ...any)) DocumentOption {
	return func(d *DocumentSearch) {
		if logf != nil {
			d.logf = logf
		}
	}
}

// NewDocumentSearch chunks text and, when an embedder is configured, embeds
// every chunk up front.
func NewDocumentSearch(ctx context.Context, source, text string, opts ...DocumentOption) (*DocumentSearch, error) {
	d := &DocumentSearch{
		collection:   "resumes",
		source:       source,
		topK:         DefaultTopK,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		logf:         func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(d)
	}

	d.chunks = chunkText(text, d.chunkSize, d.chunkOverlap)
	if len(d.chunks) == 0 {
		return nil, fmt.Errorf("document %s has no text to index", source)
	}

	if d.embedder != nil {
		vectors, err := d.embedder.Embed(ctx, d.embeddingModel, d.chunks)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", source, err)
		}
		d.vectors = vectors
	}
	d.logf("[tools] indexed %s into %s: %d chunks", source, d.collection, len(d.chunks))
	return d, nil
}

// Name returns the tool identifier.
func (d *DocumentSearch) Name() string {
	return "pdf_retrieval"
}

// Description tells the model what the tool is for.
func (d *DocumentSearch) Description() string {
	return "Searches the uploaded resume (" + d.source + ") and returns the most relevant passages."
}

// Collection returns the index name.
func (d *DocumentSearch) Collection() string {
	return d.collection
}

// Chunks returns the number of indexed chunks.
func (d *DocumentSearch) Chunks() int {
	return len(d.chunks)
}

type scored struct {
	index int
	score float64
}

// Search returns the indexes of the top chunks for query, best first. Ties
// keep document order.
func (d *DocumentSearch) Search(ctx context.Context, query string) ([]int, error) {
	scores := make([]scored, len(d.chunks))

	if d.embedder != nil && len(d.vectors) == len(d.chunks) {
		qv, err := d.embedder.Embed(ctx, d.embeddingModel, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(qv) != 1 {
			return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
		}
		for i, v := range d.vectors {
			scores[i] = scored{index: i, score: cosine(qv[0], v)}
		}
	} else {
		kws := keywords(query)
		for i, c := range d.chunks {
			scores[i] = scored{index: i, score: termOverlap(c, kws)}
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	k := d.topK
	if k > len(scores) {
		k = len(scores)
	}
	out := make([]int, 0, k)
	for _, s := range scores[:k] {
		out = append(out, s.index)
	}
	return out, nil
}

// Run returns the top chunks for query as text.
func (d *DocumentSearch) Run(ctx context.Context, query string) (string, error) {
	hits, err := d.Search(ctx, query)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for n, idx := range hits {
		if n > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "[%s chunk %d]\n%s", d.source, idx+1, d.chunks[idx])
	}
	return sb.String(), nil
}
