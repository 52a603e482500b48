package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewStepsCmd создаёт команду вывода шагов pipeline.
func NewStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List pipeline steps in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			defs, err := client.ListSteps(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "DEPENDS_ON", "RETRIES", "RETRY_DELAY"}
			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{d.ID, d.Type, strings.Join(d.DependsOn, ","), strconv.Itoa(d.Retries), d.RetryDelay}
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}
}
