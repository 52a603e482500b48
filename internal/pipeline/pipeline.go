// Package pipeline описывает batch_workflow: девять шагов от загрузки
// датасета до очистки staging-таблицы в warehouse.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/steps"
	"github.com/shaiso/batchflow/internal/storage"
	"github.com/shaiso/batchflow/internal/warehouse"
)

// Name — имя pipeline.
const Name = "batch_workflow"

// ID шагов в порядке выполнения.
const (
	StepStart                 = "start"
	StepDownloadDataset       = "download_dataset"
	StepTransformDataset      = "transform_dataset"
	StepUploadDataset         = "upload_dataset"
	StepRegisterExternalTable = "register_external_table"
	StepRunStagingModels      = "run_staging_models"
	StepRunModels             = "run_models"
	StepDeleteStagingTable    = "delete_staging_table"
	StepEnd                   = "end"
)

// Имена артефактов.
const (
	// DatasetName — имя набора данных в ключе объекта.
	DatasetName = "online_transaction"

	// TransformedPrefix — префикс директории результата трансформации.
	TransformedPrefix = "online_transaction_transform"

	// UploadPrefix — префикс ключа в bucket.
	UploadPrefix = "datasets"

	// ExternalTable — имя external table в dataset.
	ExternalTable = "external_table"

	// StagingModel — dbt-модель staging-таблицы, удаляется в конце run.
	StagingModel = "stg_onlinepayment"
)

// ErrInvalidConfig — невалидная конфигурация pipeline.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config — параметры pipeline.
type Config struct {
	// Home — корень рабочих файлов (скрипты, spark/, dbt/, datasets/).
	Home string

	// DownloadCommand — команда загрузки датасета.
	// Последняя строка stdout — путь к загруженному файлу.
	DownloadCommand string

	// DBTTarget — target dbt (--target).
	DBTTarget string

	// ProjectID, Dataset — проект и dataset warehouse.
	ProjectID string
	Dataset   string

	// Bucket — bucket для загрузки.
	Bucket string

	// Retry — политика для всех шагов (nil — по умолчанию оркестратора).
	Retry *domain.RetryPolicy

	// Store — объектное хранилище.
	Store storage.ObjectStore

	// Warehouse — хранилище данных.
	Warehouse warehouse.Warehouse

	// Runner — запуск внешних команд (по умолчанию steps.ExecRunner).
	Runner steps.Runner
}

// Definer регистрирует шаги. Реализуется orchestrator.Orchestrator.
type Definer interface {
	Define(stepID string, action steps.Step, dependsOn []string, retry *domain.RetryPolicy) error
}

// Spec — шаг pipeline с действием и зависимостями.
type Spec struct {
	ID        string
	Action    steps.Step
	DependsOn []string
}

// Build строит шаги pipeline в порядке выполнения.
func Build(cfg Config) ([]Spec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Внешние системы
	download, err := downloadStep(cfg)
	if err != nil {
		return nil, err
	}
	transform, err := transformStep(cfg)
	if err != nil {
		return nil, err
	}
	upload, err := steps.NewUploadStep(steps.UploadConfig{
		Store:      cfg.Store,
		Bucket:     cfg.Bucket,
		Prefix:     UploadPrefix,
		Dataset:    DatasetName,
		SourceStep: StepTransformDataset,
	})
	if err != nil {
		return nil, err
	}
	register, err := steps.NewExternalTableStep(steps.ExternalTableConfig{
		Warehouse:    cfg.Warehouse,
		Table:        cfg.table(ExternalTable),
		SourceFormat: warehouse.FormatParquet,
		SourceStep:   StepUploadDataset,
	})
	if err != nil {
		return nil, err
	}
	staging, err := dbtStep(cfg, "--select")
	if err != nil {
		return nil, err
	}
	models, err := dbtStep(cfg, "--exclude")
	if err != nil {
		return nil, err
	}
	cleanup, err := steps.NewDeleteTableStep(cfg.Warehouse, cfg.table(StagingModel), true)
	if err != nil {
		return nil, err
	}

	// Линейная цепочка
	chain := []struct {
		id     string
		action steps.Step
	}{
		{StepStart, steps.NewNoopStep()},
		{StepDownloadDataset, download},
		{StepTransformDataset, transform},
		{StepUploadDataset, upload},
		{StepRegisterExternalTable, register},
		{StepRunStagingModels, staging},
		{StepRunModels, models},
		{StepDeleteStagingTable, cleanup},
		{StepEnd, steps.NewNoopStep()},
	}

	specs := make([]Spec, 0, len(chain))
	for i, s := range chain {
		spec := Spec{ID: s.id, Action: s.action}
		if i > 0 {
			spec.DependsOn = []string{chain[i-1].id}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Define строит pipeline и регистрирует шаги в d.
func Define(d Definer, cfg Config) error {
	specs, err := Build(cfg)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := d.Define(spec.ID, spec.Action, spec.DependsOn, cfg.Retry); err != nil {
			return fmt.Errorf("define %s: %w", spec.ID, err)
		}
	}
	return nil
}

// TransformedName возвращает имя результата трансформации для start timestamp.
func TransformedName(timestamp string) string {
	return TransformedPrefix + "-" + timestamp + ".parquet"
}

// downloadStep — скрипт загрузки, output — последняя строка stdout.
func downloadStep(cfg Config) (*steps.CommandStep, error) {
	return steps.NewCommandStep(steps.CommandConfig{
		Dir:    cfg.Home,
		Runner: cfg.Runner,
		Build: func(*steps.Request) ([]steps.Command, error) {
			return []steps.Command{
				{Name: "bash", Args: []string{"-c", cfg.DownloadCommand}},
			}, nil
		},
	})
}

// transformStep — spark-трансформация загруженного файла.
// Output — последний parquet-файл в директории результата.
func transformStep(cfg Config) (*steps.CommandStep, error) {
	return steps.NewCommandStep(steps.CommandConfig{
		Dir:    filepath.Join(cfg.Home, "spark"),
		Runner: cfg.Runner,
		Build: func(req *steps.Request) ([]steps.Command, error) {
			source, err := req.Input(StepDownloadDataset)
			if err != nil {
				return nil, err
			}
			return []steps.Command{
				{Name: "python3", Args: []string{"spark_transform.py", source, TransformedName(req.StartTimestamp())}},
			}, nil
		},
		Output: func(req *steps.Request, _ string) (string, error) {
			dir := filepath.Join(cfg.Home, "datasets", TransformedName(req.StartTimestamp()))
			return steps.GlobLast(filepath.Join(dir, "*.parquet"))
		},
	})
}

// dbtStep — dbt deps и dbt run для staging-модели (--select) или остальных (--exclude).
func dbtStep(cfg Config, selector string) (*steps.CommandStep, error) {
	return steps.NewCommandStep(steps.CommandConfig{
		Dir:    filepath.Join(cfg.Home, "dbt"),
		Runner: cfg.Runner,
		Build: func(*steps.Request) ([]steps.Command, error) {
			return []steps.Command{
				{Name: "dbt", Args: []string{"deps"}},
				{Name: "dbt", Args: []string{"run", selector, StagingModel, "--profiles-dir", ".", "--target", cfg.DBTTarget}},
			}, nil
		},
	})
}

// table возвращает ссылку на таблицу в dataset pipeline.
func (c Config) table(name string) warehouse.TableRef {
	return warehouse.TableRef{Project: c.ProjectID, Dataset: c.Dataset, Table: name}
}

// validate проверяет обязательные поля.
func (c Config) validate() error {
	switch {
	case c.Home == "":
		return fmt.Errorf("%w: home is required", ErrInvalidConfig)
	case c.DownloadCommand == "":
		return fmt.Errorf("%w: download command is required", ErrInvalidConfig)
	case c.DBTTarget == "":
		return fmt.Errorf("%w: dbt target is required", ErrInvalidConfig)
	case c.ProjectID == "" || c.Dataset == "":
		return fmt.Errorf("%w: project and dataset are required", ErrInvalidConfig)
	case c.Bucket == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	case c.Store == nil:
		return fmt.Errorf("%w: object store is required", ErrInvalidConfig)
	case c.Warehouse == nil:
		return fmt.Errorf("%w: warehouse is required", ErrInvalidConfig)
	}
	return nil
}
