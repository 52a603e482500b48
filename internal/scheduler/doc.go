// Package scheduler запускает pipeline по cron-расписанию.
//
// Scheduler периодически проверяет NextDueAt и создаёт scheduled run
// с idempotency key "{pipeline}_{due_unix}": повторный тик по той же
// границе не создаёт второй run.
//
// Структура:
//   - scheduler.go — Scheduler (Init, Tick, Run)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Pipeline:  "batch_workflow",
//	    CronExpr:  "@monthly",
//	    Triggerer: orch,
//	    History:   runRepo,                         // опционально
//	    Locker:    repo.NewAdvisoryLock(pool, key), // опционально
//	    Logger:    logger,
//	})
//
//	go sched.Run(ctx)
//
// Leader Election:
//
// При нескольких экземплярах планирует только держатель
// pg_try_advisory_lock (repo.AdvisoryLock).
package scheduler
