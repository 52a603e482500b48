package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска pipeline.
//
// Scheduler проверяет NextDueAt и запускает run, когда время подошло.
type Schedule struct {
	// Pipeline — имя pipeline, который запускаем.
	Pipeline string `json:"pipeline"`

	// CronExpr — cron-выражение или дескриптор.
	// Примеры:
	//   "@monthly"    — первого числа каждого месяца в 00:00
	//   "0 3 1 * *"   — первого числа в 03:00
	CronExpr string `json:"cron_expr"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — ID последнего созданного run.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске и сдвигает NextDueAt.
func (s *Schedule) RecordRun(runID uuid.UUID, nextDue time.Time) {
	now := time.Now().UTC()
	s.LastRunAt = &now
	s.LastRunID = &runID
	s.NextDueAt = &nextDue
}
