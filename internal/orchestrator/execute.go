package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// execute выполняет run от первого шага до финального статуса.
//
// Вызывается в отдельной горутине из TriggerRun.
func (o *Orchestrator) execute(state *RunState) {
	defer o.wg.Done()

	// Контекст внешних вызовов не отменяется: Cancel и Shutdown
	// только перестают ждать результат.
	ctx := context.Background()
	logger := telemetry.WithRunID(o.logger, state.RunID().String())

	// 1. Переводим run в RUNNING
	run := state.MarkRunning(o.nextStartTime())
	o.saveRun(ctx, &run)
	o.publish("run.started", run.ID.String(), func() error {
		return o.events.PublishRunStarted(ctx, &run)
	})

	logger.Info("run started", "start_timestamp", run.StartTimestamp())

	// 2. Выполняем шаги по одному
	status := domain.RunStatusSucceeded
	failedStep, errMsg := "", ""

	for {
		if state.IsAborted() {
			status, errMsg = domain.RunStatusCancelled, state.AbortReason()
			break
		}

		succeeded, finished := state.Progress()
		node := o.graph.NextReady(succeeded, finished)
		if node == nil {
			break
		}

		err := o.runStep(ctx, state, node)
		if err == nil {
			continue
		}
		if errors.Is(err, errAborted) {
			status, errMsg = domain.RunStatusCancelled, state.AbortReason()
			break
		}

		status, failedStep, errMsg = domain.RunStatusFailed, node.ID, err.Error()
		break
	}

	// 3. Пропускаем всё, что не выполнялось
	skipped := state.SkipUnfinished(o.skipReason(status, failedStep, errMsg))
	for i := range skipped {
		o.saveStep(ctx, &skipped[i])
		o.publishStep(ctx, &skipped[i])
	}

	// 4. Финализируем run
	run = state.Finish(status, failedStep, errMsg)
	o.saveRun(ctx, &run)
	o.publish("run.finished", run.ID.String(), func() error {
		return o.events.PublishRunFinished(ctx, &run)
	})

	o.metrics.ObserveRun(run.Status)

	logArgs := []any{
		"status", run.Status,
		"duration", run.Duration(),
		"skipped_steps", len(skipped),
	}
	switch run.Status {
	case domain.RunStatusFailed:
		logger.Error("run failed", append(logArgs, "failed_step", failedStep, "error", errMsg)...)
	case domain.RunStatusCancelled:
		logger.Warn("run cancelled", append(logArgs, "reason", errMsg)...)
	default:
		logger.Info("run succeeded", logArgs...)
	}

	close(state.done)

	o.metrics.SetActiveRuns(o.ActiveRunsCount())
	o.evictHistory()
}

// skipReason возвращает функцию причины пропуска шага.
func (o *Orchestrator) skipReason(status domain.RunStatus, failedStep, errMsg string) func(string) string {
	downstream := make(map[string]bool)
	if failedStep != "" {
		if nodes, err := o.graph.Descendants(failedStep); err == nil {
			for _, node := range nodes {
				downstream[node.ID] = true
			}
		}
	}

	return func(stepID string) string {
		switch {
		case status == domain.RunStatusCancelled:
			return fmt.Sprintf("%v: %s", ErrRunCancelled, errMsg)
		case downstream[stepID]:
			return fmt.Sprintf("%v: %s failed", ErrUpstreamSkipped, failedStep)
		case failedStep != "":
			return fmt.Sprintf("run stopped: %s failed", failedStep)
		default:
			return ErrUpstreamSkipped.Error()
		}
	}
}

// saveRun сохраняет run в Store (best-effort).
func (o *Orchestrator) saveRun(ctx context.Context, run *domain.Run) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Error("failed to persist run",
			"run_id", run.ID,
			"status", run.Status,
			"error", err,
		)
	}
}

// saveStep сохраняет состояние шага в Store (best-effort).
func (o *Orchestrator) saveStep(ctx context.Context, step *domain.StepRun) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveStep(ctx, step); err != nil {
		o.logger.Error("failed to persist step",
			"run_id", step.RunID,
			"step_id", step.StepID,
			"status", step.Status,
			"error", err,
		)
	}
}

// publishStep публикует step.finished (best-effort).
func (o *Orchestrator) publishStep(ctx context.Context, step *domain.StepRun) {
	o.publish("step.finished", step.RunID.String(), func() error {
		return o.events.PublishStepFinished(ctx, step)
	})
}

// publish вызывает fn, если Events настроен, и логирует ошибку.
func (o *Orchestrator) publish(event, runID string, fn func() error) {
	if o.events == nil {
		return
	}
	if err := fn(); err != nil {
		o.logger.Warn("failed to publish event",
			"event", event,
			"run_id", runID,
			"error", err,
		)
	}
}
