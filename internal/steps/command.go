package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// StepTypeCommand — тип шага запуска внешней команды.
const StepTypeCommand = "command"

// stderrTailLines — сколько последних строк stderr сохраняется в ошибке.
const stderrTailLines = 20

// ErrNoMatch — по шаблону не найдено ни одного файла.
var ErrNoMatch = errors.New("no files match pattern")

// Command — одна внешняя команда.
type Command struct {
	Name string
	Args []string
}

// String возвращает команду одной строкой (для логов и ошибок).
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandResult — результат запуска команды.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner запускает внешние команды.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, cmd Command) (*CommandResult, error)
}

// ExecRunner — Runner через os/exec.
type ExecRunner struct{}

// Run запускает команду и ждёт её завершения.
// Ненулевой код выхода возвращается как *CommandError.
func (ExecRunner) Run(ctx context.Context, dir string, env []string, cmd Command) (*CommandResult, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = dir
	if len(env) > 0 {
		c.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &CommandError{
			Command:  cmd.String(),
			ExitCode: result.ExitCode,
			Stderr:   TailLines(result.Stderr, stderrTailLines),
		}
	}

	return result, fmt.Errorf("run %s: %w", cmd.Name, err)
}

// CommandError — команда завершилась с ненулевым кодом.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

// Error реализует интерфейс error.
func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// IsCommandError проверяет, является ли ошибка ошибкой команды.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// BuildFunc строит список команд шага из request.
// Handoff-значения и start timestamp подставляются здесь, в момент dispatch.
type BuildFunc func(req *Request) ([]Command, error)

// OutputFunc вычисляет output шага из stdout последней команды.
type OutputFunc func(req *Request, stdout string) (string, error)

// CommandConfig — конфигурация CommandStep.
type CommandConfig struct {
	// Dir — рабочая директория команд.
	Dir string

	// Env — дополнительные переменные окружения (KEY=VALUE).
	Env []string

	// Build — команды шага, выполняются последовательно до первой ошибки.
	Build BuildFunc

	// Output — вычисление output. По умолчанию LastLineOutput.
	Output OutputFunc

	// Runner — запуск команд. По умолчанию ExecRunner.
	Runner Runner
}

// CommandStep — шаг запуска внешних команд (скрипты, spark, dbt).
type CommandStep struct {
	dir    string
	env    []string
	build  BuildFunc
	output OutputFunc
	runner Runner
}

// NewCommandStep создаёт CommandStep.
func NewCommandStep(cfg CommandConfig) (*CommandStep, error) {
	if cfg.Build == nil {
		return nil, fmt.Errorf("%w: %s: build function required", ErrInvalidConfig, StepTypeCommand)
	}
	if cfg.Output == nil {
		cfg.Output = LastLineOutput
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &CommandStep{
		dir:    cfg.Dir,
		env:    cfg.Env,
		build:  cfg.Build,
		output: cfg.Output,
		runner: cfg.Runner,
	}, nil
}

// Type возвращает тип шага.
func (s *CommandStep) Type() string {
	return StepTypeCommand
}

// Execute запускает команды шага.
func (s *CommandStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	// 1. Строим команды из handoff-значений
	cmds, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: %s: no commands", ErrInvalidConfig, StepTypeCommand)
	}

	// 2. Выполняем последовательно
	var stdout string
	for _, cmd := range cmds {
		result, err := s.runner.Run(ctx, s.dir, s.env, cmd)
		if err != nil {
			if result != nil {
				return NewResponse(LastLine(result.Stdout)), err
			}
			return nil, err
		}
		stdout = result.Stdout
	}

	// 3. Output из stdout последней команды
	output, err := s.output(req, stdout)
	if err != nil {
		return NewResponse(LastLine(stdout)), err
	}

	return NewResponse(output), nil
}

// LastLineOutput — OutputFunc: последняя непустая строка stdout.
func LastLineOutput(_ *Request, stdout string) (string, error) {
	line := LastLine(stdout)
	if line == "" {
		return "", ErrNoOutput
	}
	return line, nil
}

// LastLine возвращает последнюю непустую строку.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// TailLines возвращает последние n строк s.
func TailLines(s string, n int) string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// GlobLast возвращает последний (в лексическом порядке) файл по шаблону.
func GlobLast(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoMatch, pattern)
	}
	return matches[len(matches)-1], nil
}
