package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arlattimore/ticketflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticketflow",
		Short:         "Run customer-support tickets through the 11-stage pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string
	var auditDB string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run <ticket.json>",
		Short: "Execute the pipeline for a ticket payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading ticket: %w", err)
			}

			cfg := ticketflow.DefaultConfig()
			if configPath != "" {
				cfg, err = ticketflow.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}
			registry, err := ticketflow.NewRegistry(cfg)
			if err != nil {
				return err
			}

			var logger ticketflow.Logger = ticketflow.NewDefaultLogger()
			if verbose {
				logger = &stderrLogger{}
			}

			audit := ticketflow.NewMultiRecorder(&ticketflow.LoggerRecorder{Logger: logger})
			if auditDB != "" {
				sqlite, err := ticketflow.NewSQLiteRecorder(auditDB, logger)
				if err != nil {
					return err
				}
				defer sqlite.Close()
				audit.Attach(sqlite)
			}

			demo := ticketflow.DemoClient()
			executor := ticketflow.NewExecutor(
				ticketflow.WithExternalClient("common", demo),
				ticketflow.WithExternalClient("atlas", demo),
				ticketflow.WithExecutorAudit(audit),
				ticketflow.WithExecutorLogger(logger),
			)
			runner := ticketflow.NewRunner(registry, executor,
				ticketflow.WithLogger(logger),
				ticketflow.WithAudit(audit),
				ticketflow.WithMiddleware(ticketflow.LoggingMiddleware(logger)),
			)

			result, runErr := runner.Run(cmd.Context(), payload)
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			fmt.Fprintf(cmd.OutOrStdout(), "\nstatus: %s, stages completed: %d, abilities logged: %d\n",
				result.Processing.Status, result.Processing.StagesCompleted, len(result.ExecutionLog))
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML pipeline configuration (defaults to the stock pipeline)")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "sqlite file for the persistent audit log")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log stage and ability progress to stderr")
	return cmd
}

type stderrLogger struct{}

func (l *stderrLogger) Debug(format string, args ...interface{}) { l.log("DEBUG", format, args...) }
func (l *stderrLogger) Info(format string, args ...interface{})  { l.log("INFO", format, args...) }
func (l *stderrLogger) Warn(format string, args ...interface{})  { l.log("WARN", format, args...) }
func (l *stderrLogger) Error(format string, args ...interface{}) { l.log("ERROR", format, args...) }

func (l *stderrLogger) log(level, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}
