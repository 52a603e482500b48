package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// RunNotSucceededError — run завершился не в SUCCEEDED (для run start --wait).
type RunNotSucceededError struct {
	ID     string
	Status string
}

// Error реализует интерфейс error.
func (e *RunNotSucceededError) Error() string {
	return fmt.Sprintf("run %s finished with status %s", e.ID, e.Status)
}

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage pipeline runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "TRIGGER", "STATUS", "STARTED", "DURATION", "FAILED_STEP"}

func runRow(r RunResponse) []string {
	return []string{r.ID, r.Trigger, r.Status, r.StartTimestamp, r.Duration, r.FailedStep}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(cmd.Context(), ListRunsOpts{
				Status: status,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string
	var wait bool
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Trigger a manual run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.StartRun(cmd.Context(), CreateRunRequest{IdempotencyKey: key})
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run started: %s", run.ID))

			if wait {
				ctx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}

				run, err = client.WaitRun(ctx, run.ID, interval)
				if err != nil {
					return err
				}
			}

			printRun(out, run)

			if wait && run.Status != "SUCCEEDED" {
				return &RunNotSucceededError{ID: run.ID, Status: run.Status}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "idempotency-key", "", "Return the existing run if one was started with this key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval for --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this duration (0 = no limit)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with step statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printRun(out, run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

// printRun выводит run и, в табличном режиме, его шаги.
func printRun(out *Output, run *RunResponse) {
	out.Print(runHeaders, [][]string{runRow(*run)}, run)
	if !out.IsTable() || len(run.Steps) == 0 {
		return
	}

	if run.Error != "" {
		out.Success("Error: " + run.Error)
	}

	rows := make([][]string, len(run.Steps))
	for i, s := range run.Steps {
		rows[i] = []string{strconv.Itoa(s.Position), s.StepID, s.Status, strconv.Itoa(s.Attempts), s.Output, s.Error}
	}
	fmt.Fprintln(out.w)
	out.Table([]string{"#", "STEP", "STATUS", "ATTEMPTS", "OUTPUT", "ERROR"}, rows)
}
