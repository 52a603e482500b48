// batchflow — инструмент командной строки для ручного запуска pipeline,
// просмотра и отмены runs через HTTP API.
//
// Использование:
//
//	batchflow [--api-url URL] [-o table|json|yaml] <command> <subcommand> [flags]
//
// Команды:
//
//	run    Управление runs
//	steps  Шаги pipeline
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/batchflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCmd(version).ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	// Run завершился неуспешно: отдельный код выхода
	var notSucceeded *cli.RunNotSucceededError
	if errors.As(err, &notSucceeded) {
		os.Exit(2)
	}
	os.Exit(1)
}
