package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig — настройки логирования.
type LogConfig struct {
	// Level — DEBUG, INFO, WARN, ERROR. По умолчанию: INFO.
	Level string

	// Format — "json" (по умолчанию) или "text".
	Format string

	// Output — куда писать. По умолчанию: os.Stdout.
	Output io.Writer
}

// ParseLevel переводит строку в уровень логирования.
// Неизвестные значения дают INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger(cfg LogConfig) *slog.Logger {
	var handler slog.Handler

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithRunID возвращает логгер с добавленным run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithStepID возвращает логгер с добавленным step_id.
func WithStepID(logger *slog.Logger, stepID string) *slog.Logger {
	return logger.With("step_id", stepID)
}
