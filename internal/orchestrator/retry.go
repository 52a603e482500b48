package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/batchflow/internal/engine"
	"github.com/shaiso/batchflow/internal/steps"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// stepResult — результат одного вызова Step.Execute.
type stepResult struct {
	resp *steps.Response
	err  error
}

// runStep выполняет шаг с retry согласно его RetryPolicy.
//
// Возвращает nil при успехе, *StepFailedError после исчерпания попыток
// и errAborted, если run прерван.
func (o *Orchestrator) runStep(ctx context.Context, state *RunState, node *engine.Node) error {
	action := o.actions[node.ID]
	policy := node.Step.Retry
	maxAttempts := policy.MaxAttempts()
	logger := telemetry.WithStepID(telemetry.WithRunID(o.logger, state.RunID().String()), node.ID)

	for attempt := 1; ; attempt++ {
		// 1. Новая попытка
		step := state.MarkStepRunning(node.ID)
		o.saveStep(ctx, &step)

		logger.Info("step started", "attempt", attempt, "max_attempts", maxAttempts)

		// 2. Dispatch с handoff-значениями на текущий момент
		run := state.Run()
		req := steps.NewRequest(node.ID, run.ID, *run.StartedAt, state.Handoffs())

		started := o.now()
		resp, err := o.dispatch(ctx, state, action, req)
		duration := o.now().Sub(started)

		if errors.Is(err, errAborted) {
			logger.Warn("stopped waiting for step", "attempt", attempt)
			return errAborted
		}

		output := ""
		if resp != nil {
			output = resp.Output
		}

		// 3. Успех
		if err == nil {
			step, putErr := state.MarkStepSucceeded(node.ID, output)
			if putErr != nil {
				err = putErr
			} else {
				o.metrics.ObserveStepAttempt(node.ID, telemetry.ResultSucceeded, duration)
				o.saveStep(ctx, &step)
				o.publishStep(ctx, &step)

				logger.Info("step succeeded",
					"attempt", attempt,
					"duration", duration,
					"output", output,
				)
				return nil
			}
		}

		// 4. Ошибка попытки
		o.metrics.ObserveStepAttempt(node.ID, telemetry.ResultFailed, duration)
		execErr := &StepExecutionError{StepID: node.ID, Attempt: attempt, Err: err}

		if !step.CanRetry(policy) {
			step := state.MarkStepFailed(node.ID, output, err.Error())
			o.saveStep(ctx, &step)
			o.publishStep(ctx, &step)

			logger.Error("step failed",
				"attempt", attempt,
				"duration", duration,
				"error", err,
			)
			return &StepFailedError{StepID: node.ID, Attempts: attempt, Err: err}
		}

		step = state.RecordAttemptError(node.ID, execErr.Error())
		o.saveStep(ctx, &step)

		logger.Warn("step attempt failed, retrying",
			"attempt", attempt,
			"delay", policy.Delay,
			"error", err,
		)

		// 5. Фиксированная задержка перед retry
		if err := waitRetry(state, policy.Delay); err != nil {
			return err
		}
	}
}

// dispatch вызывает action и ждёт результат или прерывание run.
//
// Вызов выполняется в отдельной горутине; при прерывании его результат
// попадает в буферизованный канал и отбрасывается.
func (o *Orchestrator) dispatch(ctx context.Context, state *RunState, action steps.Step, req *steps.Request) (*steps.Response, error) {
	results := make(chan stepResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- stepResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()

		resp, err := action.Execute(ctx, req)
		results <- stepResult{resp: resp, err: err}
	}()

	select {
	case r := <-results:
		return r.resp, r.err
	case <-state.Aborted():
		return nil, errAborted
	}
}

// waitRetry ждёт delay или прерывания run.
func waitRetry(state *RunState, delay time.Duration) error {
	if delay <= 0 {
		if state.IsAborted() {
			return errAborted
		}
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-state.Aborted():
		return errAborted
	}
}
