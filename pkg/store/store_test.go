package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zen-systems/careerflow/pkg/assemble"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls  []execCall
	failOn string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func finishedRun(t *testing.T) *pipeline.Run {
	t.Helper()
	p, err := pipeline.ParseManifest([]byte(`name: store
stages:
  - id: summary
    shape: object
    prompt: "Read {{ .Document }}"
  - id: jobs
    shape: array
    depends_on: [summary]
    prompt: "Use {{ .Deps.summary }}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	exec := pipeline.ExecutorFunc(func(ctx context.Context, req pipeline.ExecRequest) (*pipeline.ExecResult, error) {
		if req.StageID == "summary" {
			return &pipeline.ExecResult{Text: `{"name":"A"}`}, nil
		}
		return &pipeline.ExecResult{Text: `[1,2]`}, nil
	})
	run, err := pipeline.Execute(context.Background(), p, exec, pipeline.RunOptions{RunID: "run-1", DocumentRef: "cv.txt"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return run
}

func TestSaveRun(t *testing.T) {
	run := finishedRun(t)
	db := &fakeDB{}
	s := NewRunStore(db)

	if err := s.SaveRun(context.Background(), run, assemble.Assemble(run)); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if len(db.calls) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(db.calls))
	}
	if !strings.Contains(db.calls[0].sql, "INSERT INTO pipeline_runs") {
		t.Fatalf("first statement should upsert the run: %s", db.calls[0].sql)
	}
	if db.calls[0].args[0] != "run-1" || db.calls[0].args[3] != "success" {
		t.Fatalf("unexpected run args: %v", db.calls[0].args)
	}
	if fs, ok := db.calls[0].args[4].(*string); !ok || fs != nil {
		t.Fatalf("failed stage should be NULL on success: %v", db.calls[0].args[4])
	}

	stage := db.calls[2]
	if !strings.Contains(stage.sql, "INSERT INTO stage_results") {
		t.Fatalf("expected stage upsert: %s", stage.sql)
	}
	if stage.args[1] != "jobs" || stage.args[2] != 1 || stage.args[4] != "ok" {
		t.Fatalf("unexpected stage args: %v", stage.args)
	}
	if string(stage.args[5].([]byte)) != "[1,2]" {
		t.Fatalf("unexpected stage value: %s", stage.args[5])
	}
}

func TestSaveRunErrors(t *testing.T) {
	run := finishedRun(t)
	s := NewRunStore(&fakeDB{failOn: "stage_results"})
	err := s.SaveRun(context.Background(), run, assemble.Assemble(run))
	if err == nil || !strings.Contains(err.Error(), "stage summary") {
		t.Fatalf("expected stage error, got %v", err)
	}
	if err := s.SaveRun(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil run")
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := NewRunStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS stage_results") {
		t.Fatalf("unexpected migrate calls: %v", db.calls)
	}
}

type fakeBucket struct {
	objects map[string]string
	gotKey  string
}

func (f *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotKey = aws.ToString(in.Key)
	body, ok := f.objects[f.gotKey]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestDocumentStoreFetch(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{"uploads/cv.txt": "hello"}}
	docs := NewDocumentStore(bucket, "resumes")

	data, err := docs.Fetch(context.Background(), "uploads/cv.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected body: %q", data)
	}

	if _, err := docs.Fetch(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for missing object")
	}
	if _, err := docs.Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
