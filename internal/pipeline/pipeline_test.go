package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/steps"
	"github.com/shaiso/batchflow/internal/storage"
	"github.com/shaiso/batchflow/internal/warehouse"
)

// --- Fakes ---

type ranCommand struct {
	dir string
	cmd steps.Command
}

// fakeRunner имитирует download.sh, spark и dbt.
type fakeRunner struct {
	home    string
	failDBT string

	mu   sync.Mutex
	runs []ranCommand
}

func (r *fakeRunner) Run(_ context.Context, dir string, _ []string, cmd steps.Command) (*steps.CommandResult, error) {
	r.mu.Lock()
	r.runs = append(r.runs, ranCommand{dir: dir, cmd: cmd})
	r.mu.Unlock()

	switch cmd.Name {
	case "bash":
		return &steps.CommandResult{Stdout: "downloading...\n/opt/airflow/datasets/raw.csv\n"}, nil
	case "python3":
		// spark пишет директорию с part-файлами
		out := filepath.Join(r.home, "datasets", cmd.Args[2])
		if err := os.MkdirAll(out, 0o755); err != nil {
			return nil, err
		}
		for _, name := range []string{"part-00000.parquet", "part-00001.parquet", "_SUCCESS"} {
			if err := os.WriteFile(filepath.Join(out, name), []byte("x"), 0o644); err != nil {
				return nil, err
			}
		}
		return &steps.CommandResult{Stdout: "done\n"}, nil
	case "dbt":
		if r.failDBT != "" && strings.Contains(cmd.String(), r.failDBT) {
			return &steps.CommandResult{Stderr: "Database Error"}, &steps.CommandError{Command: cmd.String(), ExitCode: 1, Stderr: "Database Error"}
		}
		return &steps.CommandResult{Stdout: "Completed successfully\n"}, nil
	}
	return nil, errors.New("unexpected command " + cmd.Name)
}

func (r *fakeRunner) commands() []ranCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ranCommand(nil), r.runs...)
}

type upload struct {
	bucket, key, localPath string
}

type fakeStore struct {
	mu      sync.Mutex
	uploads []upload
}

func (s *fakeStore) Upload(_ context.Context, bucket, key, localPath string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, upload{bucket, key, localPath})
	return &storage.Object{Bucket: bucket, Key: key, URI: storage.URI("gs", bucket, key), Files: 1}, nil
}

func (s *fakeStore) Scheme() string { return "gs" }

type deletion struct {
	ref    warehouse.TableRef
	ignore bool
}

type fakeWarehouse struct {
	mu      sync.Mutex
	created []warehouse.ExternalTable
	deleted []deletion
}

func (w *fakeWarehouse) CreateExternalTable(_ context.Context, table warehouse.ExternalTable) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = append(w.created, table)
	return nil
}

func (w *fakeWarehouse) DeleteTable(_ context.Context, ref warehouse.TableRef, ignoreIfMissing bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleted = append(w.deleted, deletion{ref, ignoreIfMissing})
	if !ignoreIfMissing {
		return warehouse.ErrTableNotFound
	}
	return nil
}

// --- Helpers ---

type fixture struct {
	home      string
	runner    *fakeRunner
	store     *fakeStore
	warehouse *fakeWarehouse
	cfg       Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	home := t.TempDir()
	f := &fixture{
		home:      home,
		runner:    &fakeRunner{home: home},
		store:     &fakeStore{},
		warehouse: &fakeWarehouse{},
	}
	f.cfg = Config{
		Home:            home,
		DownloadCommand: "download.sh",
		DBTTarget:       "prod",
		ProjectID:       "proj",
		Dataset:         "onlinetransaction_wh",
		Bucket:          "bucket",
		Retry:           &domain.RetryPolicy{Retries: 1, Delay: time.Millisecond},
		Store:           f.store,
		Warehouse:       f.warehouse,
		Runner:          f.runner,
	}
	return f
}

func runPipeline(t *testing.T, cfg Config) *orchestrator.RunSnapshot {
	t.Helper()

	o := orchestrator.New(orchestrator.Config{
		Pipeline: Name,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, Define(o, cfg))

	runID, err := o.TriggerRun(context.Background(), domain.Trigger{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := o.Wait(ctx, runID)
	require.NoError(t, err)
	return snap
}

// --- Tests ---

func TestBuild_StepOrder(t *testing.T) {
	f := newFixture(t)

	specs, err := Build(f.cfg)
	require.NoError(t, err)

	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{
		StepStart,
		StepDownloadDataset,
		StepTransformDataset,
		StepUploadDataset,
		StepRegisterExternalTable,
		StepRunStagingModels,
		StepRunModels,
		StepDeleteStagingTable,
		StepEnd,
	}, ids)

	assert.Empty(t, specs[0].DependsOn)
	for i := 1; i < len(specs); i++ {
		assert.Equal(t, []string{specs[i-1].ID}, specs[i].DependsOn)
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no home", func(c *Config) { c.Home = "" }},
		{"no download command", func(c *Config) { c.DownloadCommand = "" }},
		{"no dbt target", func(c *Config) { c.DBTTarget = "" }},
		{"no project", func(c *Config) { c.ProjectID = "" }},
		{"no bucket", func(c *Config) { c.Bucket = "" }},
		{"no store", func(c *Config) { c.Store = nil }},
		{"no warehouse", func(c *Config) { c.Warehouse = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.modify(&f.cfg)

			_, err := Build(f.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestTransformedName(t *testing.T) {
	assert.Equal(t, "online_transaction_transform-20240101000000.parquet", TransformedName("20240101000000"))
}

func TestRun_Succeeds(t *testing.T) {
	f := newFixture(t)

	snap := runPipeline(t, f.cfg)
	require.Equal(t, domain.RunStatusSucceeded, snap.Run.Status, snap.Run.Error)

	for _, step := range snap.Steps {
		assert.Equal(t, domain.StepStatusSucceeded, step.Status, step.StepID)
		assert.Equal(t, 1, step.Attempts, step.StepID)
	}

	ts := snap.Run.StartTimestamp()
	require.Len(t, ts, 14)

	outputs := make(map[string]string)
	for _, step := range snap.Steps {
		outputs[step.StepID] = step.Output
	}

	// download: последняя строка stdout
	assert.Equal(t, "/opt/airflow/datasets/raw.csv", outputs[StepDownloadDataset])

	// transform: последний parquet в директории результата
	transformed := filepath.Join(f.home, "datasets", TransformedName(ts), "part-00001.parquet")
	assert.Equal(t, transformed, outputs[StepTransformDataset])

	// upload: ключ из start timestamp
	key := "datasets/online_transaction_" + ts + ".parquet"
	require.Len(t, f.store.uploads, 1)
	assert.Equal(t, upload{"bucket", key, transformed}, f.store.uploads[0])
	assert.Equal(t, "gs://bucket/"+key, outputs[StepUploadDataset])

	// external table по тому же URI
	require.Len(t, f.warehouse.created, 1)
	table := f.warehouse.created[0]
	assert.Equal(t, "proj.onlinetransaction_wh.external_table", table.Ref.String())
	assert.Equal(t, warehouse.FormatParquet, table.SourceFormat)
	assert.Equal(t, []string{"gs://bucket/" + key}, table.SourceURIs)
	assert.True(t, table.Autodetect)
	assert.Equal(t, "proj.onlinetransaction_wh.external_table", outputs[StepRegisterExternalTable])

	// staging-таблица удаляется с ignore-if-missing
	require.Len(t, f.warehouse.deleted, 1)
	assert.Equal(t, "proj.onlinetransaction_wh.stg_onlinepayment", f.warehouse.deleted[0].ref.String())
	assert.True(t, f.warehouse.deleted[0].ignore)

	// Команды и рабочие директории
	var got []string
	for _, c := range f.runner.commands() {
		rel, err := filepath.Rel(f.home, c.dir)
		require.NoError(t, err)
		got = append(got, rel+": "+c.cmd.String())
	}
	assert.Equal(t, []string{
		".: bash -c download.sh",
		"spark: python3 spark_transform.py /opt/airflow/datasets/raw.csv " + TransformedName(ts),
		"dbt: dbt deps",
		"dbt: dbt run --select stg_onlinepayment --profiles-dir . --target prod",
		"dbt: dbt deps",
		"dbt: dbt run --exclude stg_onlinepayment --profiles-dir . --target prod",
	}, got)
}

func TestRun_StagingModelsFail(t *testing.T) {
	f := newFixture(t)
	f.runner.failDBT = "--select"

	snap := runPipeline(t, f.cfg)

	assert.Equal(t, domain.RunStatusFailed, snap.Run.Status)
	assert.Equal(t, StepRunStagingModels, snap.Run.FailedStep)

	failed, ok := snap.Step(StepRunStagingModels)
	require.True(t, ok)
	assert.Equal(t, domain.StepStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
	assert.Contains(t, failed.Error, "Database Error")

	for _, id := range []string{StepRunModels, StepDeleteStagingTable, StepEnd} {
		step, _ := snap.Step(id)
		assert.Equal(t, domain.StepStatusSkipped, step.Status, id)
	}

	// Очистка не выполнялась
	assert.Empty(t, f.warehouse.deleted)
}

func TestRun_NoTransformOutput(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry = &domain.RetryPolicy{}
	f.cfg.Runner = &noOutputRunner{fakeRunner: f.runner}

	snap := runPipeline(t, f.cfg)

	assert.Equal(t, domain.RunStatusFailed, snap.Run.Status)
	assert.Equal(t, StepTransformDataset, snap.Run.FailedStep)
	assert.Empty(t, f.store.uploads)
}

// noOutputRunner — spark завершается успешно, но файлов не создаёт.
type noOutputRunner struct {
	*fakeRunner
}

func (r *noOutputRunner) Run(ctx context.Context, dir string, env []string, cmd steps.Command) (*steps.CommandResult, error) {
	if cmd.Name == "python3" {
		return &steps.CommandResult{Stdout: "done\n"}, nil
	}
	return r.fakeRunner.Run(ctx, dir, env, cmd)
}
