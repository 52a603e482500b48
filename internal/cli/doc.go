// Package cli реализует инструмент командной строки batchflow.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с batchflow API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для ручного запуска pipeline, просмотра и отмены runs.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для batchflow API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.StartRun(ctx, cli.CreateRunRequest{})
//
// ## Output
//
// Форматирование вывода. Поддерживает три формата:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --output json
//   - YAML (gopkg.in/yaml.v3) — с флагом --output yaml
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: batchflow run list -o json | jq .
//
// ## Commands
//
//   - run: list, start [--wait], show, cancel
//   - steps
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd, NewStepsCmd),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
