package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/engine"
	"github.com/shaiso/batchflow/internal/storage"
	"github.com/shaiso/batchflow/internal/warehouse"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRequest(stepID string, handoffs map[string]string) *Request {
	return NewRequest(stepID, uuid.New(), testStart, engine.NewHandoffView(handoffs))
}

// Request Tests

func TestRequest_StartTimestamp(t *testing.T) {
	req := NewRequest("x", uuid.New(), time.Date(2024, 3, 5, 7, 8, 9, 0, time.FixedZone("MSK", 3*3600)), engine.HandoffView{})
	if got := req.StartTimestamp(); got != "20240305040809" {
		t.Errorf("expected UTC timestamp 20240305040809, got %s", got)
	}
}

func TestRequest_Input(t *testing.T) {
	req := newTestRequest("transform", map[string]string{"download": "a.csv"})

	value, err := req.Input("download")
	if err != nil || value != "a.csv" {
		t.Errorf("expected a.csv, got %q, %v", value, err)
	}

	_, err = req.Input("missing")
	if !errors.Is(err, engine.ErrHandoffNotFound) {
		t.Errorf("expected ErrHandoffNotFound, got %v", err)
	}
}

// Noop Step Tests

func TestNoopStep(t *testing.T) {
	step := NewNoopStep()
	if step.Type() != "noop" {
		t.Errorf("expected noop, got %s", step.Type())
	}

	resp, err := step.Execute(context.Background(), newTestRequest("start", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Output != "" {
		t.Errorf("expected empty output, got %q", resp.Output)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := step.Execute(ctx, newTestRequest("start", nil)); !errors.Is(err, ErrStepCancelled) {
		t.Errorf("expected ErrStepCancelled, got %v", err)
	}
}

// Command Step Tests

type fakeRunner struct {
	results map[string]*CommandResult
	errs    map[string]error
	calls   []Command
	dirs    []string
}

func (r *fakeRunner) Run(_ context.Context, dir string, _ []string, cmd Command) (*CommandResult, error) {
	r.calls = append(r.calls, cmd)
	r.dirs = append(r.dirs, dir)
	result := r.results[cmd.Name]
	if result == nil {
		result = &CommandResult{}
	}
	return result, r.errs[cmd.Name]
}

func TestCommandStep_LastLineOutput(t *testing.T) {
	runner := &fakeRunner{results: map[string]*CommandResult{
		"download.sh": {Stdout: "Downloading...\nonline_transaction.csv\n\n"},
	}}

	step, err := NewCommandStep(CommandConfig{
		Dir: "/opt/airflow",
		Build: func(*Request) ([]Command, error) {
			return []Command{{Name: "download.sh"}}, nil
		},
		Runner: runner,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := step.Execute(context.Background(), newTestRequest("download_dataset", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Output != "online_transaction.csv" {
		t.Errorf("expected online_transaction.csv, got %q", resp.Output)
	}
	if runner.dirs[0] != "/opt/airflow" {
		t.Errorf("expected dir /opt/airflow, got %s", runner.dirs[0])
	}
}

func TestCommandStep_UsesHandoff(t *testing.T) {
	runner := &fakeRunner{results: map[string]*CommandResult{
		"python3": {Stdout: "done\n"},
	}}

	step, _ := NewCommandStep(CommandConfig{
		Build: func(req *Request) ([]Command, error) {
			input, err := req.Input("download_dataset")
			if err != nil {
				return nil, err
			}
			return []Command{{Name: "python3", Args: []string{"spark_transform.py", input, "out-" + req.StartTimestamp()}}}, nil
		},
		Runner: runner,
	})

	_, err := step.Execute(context.Background(), newTestRequest("transform", map[string]string{"download_dataset": "a.csv"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "python3 spark_transform.py a.csv out-20240101000000"
	if got := runner.calls[0].String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	// Без handoff команда не запускается
	runner.calls = nil
	_, err = step.Execute(context.Background(), newTestRequest("transform", nil))
	if !errors.Is(err, engine.ErrHandoffNotFound) {
		t.Errorf("expected ErrHandoffNotFound, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(runner.calls))
	}
}

func TestCommandStep_StopsOnFirstError(t *testing.T) {
	cmdErr := &CommandError{Command: "dbt deps", ExitCode: 2, Stderr: "network error"}
	runner := &fakeRunner{
		results: map[string]*CommandResult{"dbt": {Stdout: "partial\n", ExitCode: 2}},
		errs:    map[string]error{"dbt": cmdErr},
	}

	step, _ := NewCommandStep(CommandConfig{
		Build: func(*Request) ([]Command, error) {
			return []Command{
				{Name: "dbt", Args: []string{"deps"}},
				{Name: "dbt", Args: []string{"run"}},
			}, nil
		},
		Runner: runner,
	})

	resp, err := step.Execute(context.Background(), newTestRequest("run_models", nil))
	if !IsCommandError(err) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if resp == nil || resp.Output != "partial" {
		t.Errorf("expected partial output, got %+v", resp)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(runner.calls))
	}
}

func TestCommandStep_NoOutput(t *testing.T) {
	step, _ := NewCommandStep(CommandConfig{
		Build: func(*Request) ([]Command, error) {
			return []Command{{Name: "download.sh"}}, nil
		},
		Runner: &fakeRunner{},
	})

	_, err := step.Execute(context.Background(), newTestRequest("download_dataset", nil))
	if !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput, got %v", err)
	}
}

func TestCommandStep_InvalidConfig(t *testing.T) {
	_, err := NewCommandStep(CommandConfig{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestExecRunner(t *testing.T) {
	runner := ExecRunner{}

	result, err := runner.Run(context.Background(), t.TempDir(), []string{"BATCHFLOW_TEST=hello"},
		Command{Name: "sh", Args: []string{"-c", "echo first; echo $BATCHFLOW_TEST"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if LastLine(result.Stdout) != "hello" {
		t.Errorf("expected hello, got %q", result.Stdout)
	}

	result, err = runner.Run(context.Background(), "", nil,
		Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 || result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "oops" {
		t.Errorf("expected stderr oops, got %q", cmdErr.Stderr)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"one", "one"},
		{"one\ntwo\n", "two"},
		{"one\n  two  \n\n\n", "two"},
		{"one\r\ntwo\r\n", "two"},
	}

	for _, tt := range tests {
		if got := LastLine(tt.input); got != tt.expected {
			t.Errorf("LastLine(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestTailLines(t *testing.T) {
	input := strings.Repeat("line\n", 30) + "last\n"
	tail := TailLines(input, 3)
	if tail != "line\nline\nlast" {
		t.Errorf("unexpected tail: %q", tail)
	}
	if TailLines("", 3) != "" {
		t.Error("tail of empty string should be empty")
	}
}

func TestGlobLast(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"part-0001.parquet", "part-0000.parquet", "_SUCCESS"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := GlobLast(filepath.Join(dir, "*.parquet"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "part-0001.parquet") {
		t.Errorf("expected part-0001.parquet, got %s", got)
	}

	_, err = GlobLast(filepath.Join(dir, "*.csv"))
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

// Upload Step Tests

type fakeStore struct {
	bucket, key, path string
	err               error
}

func (s *fakeStore) Upload(_ context.Context, bucket, key, localPath string) (*storage.Object, error) {
	s.bucket, s.key, s.path = bucket, key, localPath
	if s.err != nil {
		return nil, s.err
	}
	return &storage.Object{Bucket: bucket, Key: key, URI: storage.URI(s.Scheme(), bucket, key), Files: 1}, nil
}

func (s *fakeStore) Scheme() string { return "gs" }

func TestUploadStep_ObjectKey(t *testing.T) {
	store := &fakeStore{}
	step, err := NewUploadStep(UploadConfig{
		Store:      store,
		Bucket:     "b",
		Prefix:     "datasets",
		Dataset:    "online_transaction",
		SourceStep: "transform_dataset",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := newTestRequest("upload_dataset", map[string]string{
		"transform_dataset": "/opt/airflow/datasets/out/part-0000.parquet",
	})
	resp, err := step.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.bucket != "b" {
		t.Errorf("expected bucket b, got %s", store.bucket)
	}
	if store.key != "datasets/online_transaction_20240101000000.parquet" {
		t.Errorf("unexpected key: %s", store.key)
	}
	if store.path != "/opt/airflow/datasets/out/part-0000.parquet" {
		t.Errorf("unexpected local path: %s", store.path)
	}
	if resp.Output != "gs://b/datasets/online_transaction_20240101000000.parquet" {
		t.Errorf("unexpected output: %s", resp.Output)
	}
}

func TestUploadStep_Errors(t *testing.T) {
	if _, err := NewUploadStep(UploadConfig{Bucket: "b"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	uploadErr := errors.New("503 backend error")
	step, _ := NewUploadStep(UploadConfig{
		Store: &fakeStore{err: uploadErr}, Bucket: "b", Prefix: "datasets",
		Dataset: "online_transaction", SourceStep: "transform_dataset",
	})

	_, err := step.Execute(context.Background(), newTestRequest("upload_dataset", map[string]string{"transform_dataset": "x"}))
	if !errors.Is(err, uploadErr) {
		t.Errorf("expected upload error, got %v", err)
	}
}

// Warehouse Step Tests

type fakeWarehouse struct {
	created []warehouse.ExternalTable
	tables  map[string]bool
}

func (w *fakeWarehouse) CreateExternalTable(_ context.Context, table warehouse.ExternalTable) error {
	w.created = append(w.created, table)
	return nil
}

func (w *fakeWarehouse) DeleteTable(_ context.Context, ref warehouse.TableRef, ignoreIfMissing bool) error {
	if !w.tables[ref.String()] {
		if ignoreIfMissing {
			return nil
		}
		return warehouse.ErrTableNotFound
	}
	delete(w.tables, ref.String())
	return nil
}

func TestExternalTableStep(t *testing.T) {
	wh := &fakeWarehouse{}
	ref := warehouse.TableRef{Project: "p", Dataset: "onlinetransaction_wh", Table: "external_table"}

	step, err := NewExternalTableStep(ExternalTableConfig{Warehouse: wh, Table: ref, SourceStep: "upload_dataset"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	uri := "gs://b/datasets/online_transaction_20240101000000.parquet"
	resp, err := step.Execute(context.Background(), newTestRequest("register_external_table", map[string]string{"upload_dataset": uri}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(wh.created) != 1 {
		t.Fatalf("expected 1 table, got %d", len(wh.created))
	}
	table := wh.created[0]
	if table.SourceFormat != warehouse.FormatParquet || !table.Autodetect {
		t.Errorf("unexpected table: %+v", table)
	}
	if len(table.SourceURIs) != 1 || table.SourceURIs[0] != uri {
		t.Errorf("unexpected source URIs: %v", table.SourceURIs)
	}
	if resp.Output != "p.onlinetransaction_wh.external_table" {
		t.Errorf("unexpected output: %s", resp.Output)
	}
}

func TestDeleteTableStep_IgnoreIfMissing(t *testing.T) {
	ref := warehouse.TableRef{Project: "p", Dataset: "onlinetransaction_wh", Table: "stg_onlinepayment"}

	step, err := NewDeleteTableStep(&fakeWarehouse{}, ref, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := step.Execute(context.Background(), newTestRequest("delete_staging_table", nil)); err != nil {
		t.Errorf("missing table with ignoreIfMissing should succeed, got %v", err)
	}

	strict, _ := NewDeleteTableStep(&fakeWarehouse{}, ref, false)
	if _, err := strict.Execute(context.Background(), newTestRequest("delete_staging_table", nil)); !errors.Is(err, warehouse.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

func TestDeleteTableStep_InvalidRef(t *testing.T) {
	_, err := NewDeleteTableStep(&fakeWarehouse{}, warehouse.TableRef{Table: "t"}, true)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
