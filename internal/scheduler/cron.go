package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/batchflow/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей и дескрипторы @monthly, @daily, ...).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maxCatchUpSteps — предел перебора пропущенных границ расписания.
const maxCatchUpSteps = 10000

// CalculateNextDue вычисляет следующее время выполнения после from.
// Учитывает timezone schedule, результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(sched.CronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
	}
	return spec.Next(from.In(location(sched.Timezone))).UTC(), nil
}

// LatestDue возвращает последнюю границу расписания, не позже now,
// начиная с due. Если due позже now, возвращает due.
func LatestDue(sched *domain.Schedule, due, now time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(sched.CronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
	}

	loc := location(sched.Timezone)
	latest := due
	for i := 0; i < maxCatchUpSteps; i++ {
		next := spec.Next(latest.In(loc))
		if next.After(now) {
			break
		}
		latest = next
	}
	return latest.UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// location загружает timezone, невалидный даёт UTC.
func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
