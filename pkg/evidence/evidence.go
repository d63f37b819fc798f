// Package evidence writes an on-disk record of a pipeline run: run.json,
// one stages/<id>.json per executed stage and content-addressed blobs for
// full model replies.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zen-systems/careerflow/pkg/adapter"
)

// OutputLimit bounds the reply text inlined in a stage record.
const OutputLimit = 4096

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID             string        `json:"id"`
	Pipeline       string        `json:"pipeline"`
	DocumentRef    string        `json:"document_ref"`
	Outcome        string        `json:"outcome"`
	FailedStage    string        `json:"failed_stage,omitempty"`
	Error          string        `json:"error,omitempty"`
	Stages         []string      `json:"stages"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	DurationMillis int64         `json:"duration_ms"`
	Usage          adapter.Usage `json:"usage"`
}

// StageRecord captures evidence for a single stage.
type StageRecord struct {
	StageID         string          `json:"stage_id"`
	Agent           string          `json:"agent,omitempty"`
	Model           string          `json:"model,omitempty"`
	Shape           string          `json:"shape"`
	Tools           []string        `json:"tools,omitempty"`
	Status          string          `json:"status"`
	Prompt          string          `json:"prompt,omitempty"`
	PromptHash      string          `json:"prompt_hash,omitempty"`
	Output          string          `json:"output,omitempty"`
	OutputHash      string          `json:"output_hash,omitempty"`
	OutputTruncated bool            `json:"output_truncated,omitempty"`
	OutputBlob      string          `json:"output_blob,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationMillis  int64           `json:"duration_ms"`
	Usage           adapter.Usage   `json:"usage"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to stages/<stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.StageID == "" || strings.ContainsAny(record.StageID, `/\`) {
		return fmt.Errorf("invalid stage id %q", record.StageID)
	}
	path := filepath.Join(w.runDir, "stages", record.StageID+".json")
	return writeJSON(path, record)
}

// WriteBlob stores content under blobs/<kind>-<sha256>.txt and returns its
// path relative to the run directory and its hash. Writing the same content
// twice yields the same reference.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sha := hashBytes(content)
	name := fmt.Sprintf("%s-%s.txt", sanitizeKind(kind), sha)
	path := filepath.Join(w.runDir, "blobs", name)
	if _, err := os.Stat(path); err != nil {
		if err := os.WriteFile(path, content, 0600); err != nil {
			return "", "", err
		}
	}
	return "blobs/" + name, sha, nil
}

func sanitizeKind(kind string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "blob"
	}
	return sb.String()
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
