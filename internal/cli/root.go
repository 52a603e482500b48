package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Переменные окружения CLI.
const (
	envPrefix     = "BATCHFLOW"
	defaultAPIURL = "http://localhost:8080"
)

// NewRootCmd создаёт корневую команду batchflow.
//
// Адрес API берётся из --api-url или BATCHFLOW_API_URL,
// формат вывода из --output или BATCHFLOW_OUTPUT.
func NewRootCmd(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var format string

	rootCmd := &cobra.Command{
		Use:           "batchflow",
		Short:         "Control the monthly batch pipeline through the batchflow API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			format, err = ParseFormat(v.GetString("output"))
			return err
		},
	}

	rootCmd.PersistentFlags().String("api-url", defaultAPIURL, "API server URL")
	rootCmd.PersistentFlags().StringP("output", "o", FormatTable, "Output format: table, json, yaml")
	v.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	clientFn := func() *Client { return NewClient(v.GetString("api-url")) }
	outputFn := func() *Output {
		return NewOutputTo(format, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		NewRunCmd(clientFn, outputFn),
		NewStepsCmd(clientFn, outputFn),
	)

	return rootCmd
}
