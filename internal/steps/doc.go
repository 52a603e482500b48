// Package steps содержит действия шагов pipeline.
//
// # Обзор
//
// Каждое действие — вызов внешней системы. Шаг:
//   - Получает Request с handoff-значениями предыдущих шагов и start timestamp run
//   - Вызывает внешнюю систему
//   - Возвращает output, который станет handoff-значением шага
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// # Типы шагов
//
//   - noop           — маркеры начала и конца pipeline (noop.go)
//   - command        — внешние команды: download.sh, spark, dbt (command.go)
//   - upload         — загрузка в объектное хранилище (upload.go)
//   - external_table — регистрация external table (external_table.go)
//   - delete_table   — удаление таблицы (delete_table.go)
//
// # Output команд
//
// По умолчанию output команды — последняя непустая строка stdout.
// При ненулевом коде выхода возвращается *CommandError с хвостом stderr.
package steps
