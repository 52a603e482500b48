package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Форматы вывода.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ParseFormat проверяет формат вывода.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (table, json, yaml)", s)
	}
}

// Output управляет форматированием вывода CLI.
type Output struct {
	format string
	w      io.Writer // stdout для данных
	errW   io.Writer // stderr для сообщений
}

// NewOutputTo создаёт Output с форматом table, json или yaml и заданными потоками.
func NewOutputTo(format string, w, errW io.Writer) *Output {
	return &Output{
		format: format,
		w:      w,
		errW:   errW,
	}
}

// Print выводит данные: таблицу, JSON или YAML в зависимости от формата.
func (o *Output) Print(headers []string, rows [][]string, data any) {
	switch o.format {
	case FormatJSON:
		o.JSON(data)
	case FormatYAML:
		o.YAML(data)
	default:
		o.Table(headers, rows)
	}
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	// Заголовки
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	// Разделитель
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	// Строки данных
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// YAML выводит данные в формате YAML.
func (o *Output) YAML(v any) {
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	enc.Encode(v)
	enc.Close()
}

// IsTable возвращает true для табличного формата.
func (o *Output) IsTable() bool {
	return o.format != FormatJSON && o.format != FormatYAML
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}
