package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/agent"
	"github.com/zen-systems/careerflow/pkg/analysis"
	"github.com/zen-systems/careerflow/pkg/pipeline"
	"github.com/zen-systems/careerflow/pkg/tools"
)

type fixedWeb struct{}

func (fixedWeb) Name() string        { return "web_search" }
func (fixedWeb) Description() string { return "fixed" }
func (fixedWeb) Run(ctx context.Context, q string) (string, error) {
	return "1. Go developer at Acme", nil
}

var _ tools.Tool = fixedWeb{}

func newTestServer(t *testing.T, replies ...adapter.MockReply) (*Server, string) {
	t.Helper()
	uploads := t.TempDir()
	svc := &analysis.Service{
		NewExecutor: func() (pipeline.Executor, error) {
			return agent.New(adapter.NewScriptedMockAdapter(replies...), agent.Options{
				Web:       fixedWeb{},
				Documents: agent.FileIndexer(),
			})
		},
	}
	s, err := New(svc, Options{UploadDir: uploads})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, uploads
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		io.WriteString(fw, content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHealthAndProgress(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if body := decode(t, resp); resp.StatusCode != 200 || body["status"] != "ok" {
		t.Fatalf("unexpected healthz: %d %v", resp.StatusCode, body)
	}

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/progress", nil), -1)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if body := decode(t, resp); body["progress"] != float64(50) || body["status"] != "Processing..." {
		t.Fatalf("unexpected progress: %v", body)
	}
}

func TestAnalyzeRejectsBadUploads(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		want     int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"unsupported type", "photo.png", nil, http.StatusUnsupportedMediaType},
		{"unknown pipeline", "cv.txt", map[string]string{"pipeline": "nope"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			resp, err := s.App().Test(uploadRequest(t, tc.filename, "data", tc.fields), -1)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			body := decode(t, resp)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, resp.StatusCode, body)
			}
			if body["success"] != false || body["error"] == "" {
				t.Fatalf("unexpected error body: %v", body)
			}
		})
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	s, uploads := newTestServer(t,
		adapter.MockReply{Content: `["skills"]`},
		adapter.MockReply{Content: `{"name":"Ada","skills":["go"]}`},
		adapter.MockReply{Content: `["go developer"]`},
		adapter.MockReply{Content: "Here you go:\n[{\"title\":\"Go developer\",\"company\":\"Acme\"}]"},
	)

	resp, err := s.App().Test(uploadRequest(t, "ada.txt", "Ada Lovelace\nSkills: go", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, body)
	}
	results := body["results"].(map[string]any)
	jobs, ok := results["job_listings"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("unexpected job listings: %v", results["job_listings"])
	}
	summary := results["resume_summary"].(map[string]any)
	if summary["name"] != "Ada" {
		t.Fatalf("unexpected summary: %v", summary)
	}

	entries, err := os.ReadDir(uploads)
	if err != nil {
		t.Fatalf("read uploads: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload was not cleaned up: %d entries", len(entries))
	}
}

func TestAnalyzeStageFailure(t *testing.T) {
	s, _ := newTestServer(t,
		adapter.MockReply{Content: `["skills"]`},
		adapter.MockReply{Content: "Sorry, no JSON today."},
	)

	resp, err := s.App().Test(uploadRequest(t, "ada.txt", "Ada", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decode(t, resp)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d (%v)", resp.StatusCode, body)
	}
	if body["failed_stage"] != "resume_summary" || body["status"] != "normalization_failed" {
		t.Fatalf("unexpected failure body: %v", body)
	}
	raw := body["raw"].(map[string]any)
	if raw["resume_summary"] != "Sorry, no JSON today." {
		t.Fatalf("unexpected raw: %v", raw)
	}
}

func TestNewRequiresService(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatalf("expected error without service")
	}
}
