package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся при TriggerRun и живёт, пока run не вытеснен из истории.
//
// Содержит:
//   - Run и состояние каждого шага
//   - Handoff-хранилище run (output успешных шагов)
//   - Сигналы отмены и завершения
type RunState struct {
	run      *domain.Run
	steps    []*domain.StepRun
	index    map[string]*domain.StepRun
	handoffs *engine.Handoffs

	// succeeded — успешно завершённые шаги (stepID → true).
	succeeded map[string]bool

	// finished — шаги в финальном статусе (stepID → true).
	finished map[string]bool

	abort       chan struct{}
	abortOnce   sync.Once
	abortReason string

	done chan struct{}

	mu sync.RWMutex
}

// NewRunState создаёт RunState со всеми шагами в статусе PENDING.
func NewRunState(run *domain.Run, nodes []*engine.Node) *RunState {
	s := &RunState{
		run:       run,
		steps:     make([]*domain.StepRun, 0, len(nodes)),
		index:     make(map[string]*domain.StepRun, len(nodes)),
		handoffs:  engine.NewHandoffs(),
		succeeded: make(map[string]bool),
		finished:  make(map[string]bool),
		abort:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, node := range nodes {
		step := &domain.StepRun{
			RunID:    run.ID,
			StepID:   node.ID,
			Position: node.Index,
			Status:   domain.StepStatusPending,
		}
		s.steps = append(s.steps, step)
		s.index[node.ID] = step
	}
	return s
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.run.ID
}

// Run возвращает копию run.
func (s *RunState) Run() domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.run
}

// Snapshot возвращает копию состояния run и всех шагов.
func (s *RunState) Snapshot() *RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &RunSnapshot{
		Run:   *s.run,
		Steps: make([]domain.StepRun, 0, len(s.steps)),
	}
	for _, step := range s.steps {
		snap.Steps = append(snap.Steps, *step)
	}
	return snap
}

// Handoffs возвращает снимок handoff-значений для dispatch шага.
func (s *RunState) Handoffs() engine.HandoffView {
	return s.handoffs.Snapshot()
}

// Progress возвращает копии множеств успешных и завершённых шагов.
func (s *RunState) Progress() (succeeded, finished map[string]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	succeeded = make(map[string]bool, len(s.succeeded))
	for id := range s.succeeded {
		succeeded[id] = true
	}
	finished = make(map[string]bool, len(s.finished))
	for id := range s.finished {
		finished[id] = true
	}
	return succeeded, finished
}

// MarkRunning переводит run в RUNNING.
func (s *RunState) MarkRunning(at time.Time) domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.run.MarkRunning(at)
	return *s.run
}

// MarkStepRunning начинает новую попытку шага.
func (s *RunState) MarkStepRunning(stepID string) domain.StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.index[stepID]
	step.MarkRunning()
	return *step
}

// RecordAttemptError сохраняет ошибку неудачной попытки перед retry.
func (s *RunState) RecordAttemptError(stepID, errMsg string) domain.StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.index[stepID]
	step.RecordAttemptError(errMsg)
	return *step
}

// MarkStepSucceeded помечает шаг успешным и записывает его output в handoff-хранилище.
func (s *RunState) MarkStepSucceeded(stepID, output string) (domain.StepRun, error) {
	if err := s.handoffs.Put(stepID, output); err != nil {
		return domain.StepRun{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.index[stepID]
	step.MarkSucceeded(output)
	s.succeeded[stepID] = true
	s.finished[stepID] = true
	return *step, nil
}

// MarkStepFailed помечает шаг упавшим.
func (s *RunState) MarkStepFailed(stepID, output, errMsg string) domain.StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.index[stepID]
	step.MarkFailed(output, errMsg)
	s.finished[stepID] = true
	return *step
}

// SkipUnfinished помечает все незавершённые шаги SKIPPED и возвращает их копии.
// reason вызывается для каждого шага и возвращает причину пропуска.
func (s *RunState) SkipUnfinished(reason func(stepID string) string) []domain.StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]domain.StepRun, 0)
	for _, step := range s.steps {
		if s.finished[step.StepID] {
			continue
		}
		step.MarkSkipped(reason(step.StepID))
		s.finished[step.StepID] = true
		skipped = append(skipped, *step)
	}
	return skipped
}

// Finish переводит run в финальный статус.
func (s *RunState) Finish(status domain.RunStatus, failedStep, errMsg string) domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case domain.RunStatusSucceeded:
		s.run.MarkSucceeded()
	case domain.RunStatusFailed:
		s.run.MarkFailed(failedStep, errMsg)
	case domain.RunStatusCancelled:
		s.run.MarkCancelled(errMsg)
	}
	return *s.run
}

// Abort запрашивает прерывание run. Возвращает false, если run уже прерван.
func (s *RunState) Abort(reason string) bool {
	aborted := false
	s.abortOnce.Do(func() {
		s.mu.Lock()
		s.abortReason = reason
		s.mu.Unlock()
		close(s.abort)
		aborted = true
	})
	return aborted
}

// Aborted возвращает канал, который закрывается при прерывании run.
func (s *RunState) Aborted() <-chan struct{} {
	return s.abort
}

// IsAborted проверяет, прерван ли run.
func (s *RunState) IsAborted() bool {
	select {
	case <-s.abort:
		return true
	default:
		return false
	}
}

// AbortReason возвращает причину прерывания.
func (s *RunState) AbortReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.abortReason
}

// Done возвращает канал, который закрывается после финализации run.
func (s *RunState) Done() <-chan struct{} {
	return s.done
}

// IsFinished проверяет, финализирован ли run.
func (s *RunState) IsFinished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalSteps: len(s.steps)}
	for _, step := range s.steps {
		switch step.Status {
		case domain.StepStatusSucceeded:
			stats.SucceededSteps++
		case domain.StepStatusFailed:
			stats.FailedSteps++
		case domain.StepStatusSkipped:
			stats.SkippedSteps++
		case domain.StepStatusRunning:
			stats.RunningSteps++
		default:
			stats.PendingSteps++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalSteps     int `json:"total_steps"`
	SucceededSteps int `json:"succeeded_steps"`
	FailedSteps    int `json:"failed_steps"`
	SkippedSteps   int `json:"skipped_steps"`
	RunningSteps   int `json:"running_steps"`
	PendingSteps   int `json:"pending_steps"`
}

// RunSnapshot — состояние run на момент запроса.
type RunSnapshot struct {
	Run   domain.Run       `json:"run"`
	Steps []domain.StepRun `json:"steps"`
}

// Step возвращает состояние шага по ID.
func (s *RunSnapshot) Step(stepID string) (domain.StepRun, bool) {
	for _, step := range s.Steps {
		if step.StepID == stepID {
			return step, true
		}
	}
	return domain.StepRun{}, false
}

// StepStatuses возвращает статусы шагов (stepID → статус).
func (s *RunSnapshot) StepStatuses() map[string]domain.StepStatus {
	statuses := make(map[string]domain.StepStatus, len(s.Steps))
	for _, step := range s.Steps {
		statuses[step.StepID] = step.Status
	}
	return statuses
}
