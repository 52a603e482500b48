// Package config загружает конфигурацию batchflow из окружения и файла.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/batchflow/internal/storage"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// Ключи конфигурации (имена переменных окружения).
const (
	KeyProjectID        = "GCP_PROJECT_ID"
	KeyBucket           = "GCP_GCS_BUCKET"
	KeyDataset          = "BIGQUERY_DATASET"
	KeyPipelineHome     = "PIPELINE_HOME"
	KeyDownloadCommand  = "DOWNLOAD_COMMAND"
	KeyDBTTarget        = "DBT_TARGET"
	KeySchedule         = "SCHEDULE"
	KeyScheduleTimezone = "SCHEDULE_TIMEZONE"
	KeyRetries          = "RETRIES"
	KeyRetryDelay       = "RETRY_DELAY"
	KeyStorageBackend   = "STORAGE_BACKEND"
	KeyStorageEndpoint  = "STORAGE_ENDPOINT"
	KeyStorageRegion    = "STORAGE_REGION"
	KeyStorageAccessKey = "STORAGE_ACCESS_KEY"
	KeyStorageSecretKey = "STORAGE_SECRET_KEY"
	KeyStorageUseSSL    = "STORAGE_USE_SSL"
	KeyDBURL            = "DB_URL"
	KeyRabbitMQURL      = "RABBITMQ_URL"
	KeyHTTPAddr         = "HTTP_ADDR"
	KeyLogLevel         = "LOG_LEVEL"
	KeyLogFormat        = "LOG_FORMAT"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// defaults — значения по умолчанию.
var defaults = map[string]any{
	KeyDataset:          "onlinetransaction_wh",
	KeyPipelineHome:     "/opt/airflow",
	KeyDownloadCommand:  "download.sh",
	KeyDBTTarget:        "prod",
	KeySchedule:         "@monthly",
	KeyScheduleTimezone: "UTC",
	KeyRetries:          1,
	KeyRetryDelay:       "5m",
	KeyStorageBackend:   storage.BackendGCS,
	KeyStorageUseSSL:    true,
	KeyHTTPAddr:         ":8080",
	KeyLogLevel:         "INFO",
	KeyLogFormat:        "json",
}

// Config — конфигурация batchflow.
type Config struct {
	// GCP
	ProjectID string
	Bucket    string
	Dataset   string

	// Pipeline
	PipelineHome    string
	DownloadCommand string
	DBTTarget       string
	Retries         int
	RetryDelay      time.Duration

	// Schedule
	Schedule         string
	ScheduleTimezone string

	// Object store
	Storage storage.Config

	// Infrastructure (пустые значения отключают компонент)
	DBURL       string
	RabbitMQURL string
	HTTPAddr    string

	// Logging
	Log telemetry.LogConfig
}

// Load читает конфигурацию из v.
//
// Порядок приоритета: переменные окружения, файл configFile (если задан),
// значения по умолчанию.
func Load(v *viper.Viper, configFile string) (Config, error) {
	// 1. Значения по умолчанию
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Окружение без префикса
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// 3. Файл конфигурации (формат по расширению)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	cfg := Config{
		ProjectID:        v.GetString(KeyProjectID),
		Bucket:           v.GetString(KeyBucket),
		Dataset:          v.GetString(KeyDataset),
		PipelineHome:     v.GetString(KeyPipelineHome),
		DownloadCommand:  v.GetString(KeyDownloadCommand),
		DBTTarget:        v.GetString(KeyDBTTarget),
		Retries:          v.GetInt(KeyRetries),
		RetryDelay:       v.GetDuration(KeyRetryDelay),
		Schedule:         v.GetString(KeySchedule),
		ScheduleTimezone: v.GetString(KeyScheduleTimezone),
		Storage: storage.Config{
			Backend:   strings.ToLower(v.GetString(KeyStorageBackend)),
			Endpoint:  v.GetString(KeyStorageEndpoint),
			Region:    v.GetString(KeyStorageRegion),
			AccessKey: v.GetString(KeyStorageAccessKey),
			SecretKey: v.GetString(KeyStorageSecretKey),
			UseSSL:    v.GetBool(KeyStorageUseSSL),
		},
		DBURL:       v.GetString(KeyDBURL),
		RabbitMQURL: v.GetString(KeyRabbitMQURL),
		HTTPAddr:    v.GetString(KeyHTTPAddr),
		Log: telemetry.LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}

	return cfg, nil
}

// Validate проверяет обязательные поля и допустимые значения.
func (c Config) Validate() error {
	var errs []error

	if c.ProjectID == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyProjectID))
	}
	if c.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyBucket))
	}
	if c.Dataset == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyDataset))
	}
	if c.PipelineHome == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyPipelineHome))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRetryDelay))
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyScheduleTimezone, err))
	}

	switch c.Storage.Backend {
	case storage.BackendGCS:
	case storage.BackendMinIO:
		if c.Storage.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s is required for minio", KeyStorageEndpoint))
		}
	case storage.BackendS3:
		if c.Storage.Region == "" {
			errs = append(errs, fmt.Errorf("%s is required for s3", KeyStorageRegion))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown backend %q", KeyStorageBackend, c.Storage.Backend))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
