package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"opportunist/internal/logger"
	"opportunist/internal/pipeline"
	"opportunist/internal/scheduler"
	"opportunist/internal/server"
)

const shutdownTimeout = 30 * time.Second

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler daemon with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApplication(ctx, false, func(a *application) error {
				if err := a.orch.Init(ctx); err != nil {
					return err
				}

				srv := server.New(a.cfg.Server.Addr, a.orch, a.metrics.Registry(), a.log)
				srv.Start()

				sched, err := scheduler.New(a.cfg.Schedule, a.orch, a.log)
				if err != nil {
					return err
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}

				<-ctx.Done()
				a.log.Info("Shutting down")

				sched.Stop()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.log.Warn("HTTP server shutdown", logger.Error(err))
				}
				return nil
			})
		},
	}
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "run <task>",
		Short:     "Run one task: crawl, process, send_emails or full_pipeline",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"crawl", "process", "send_emails", "full_pipeline"},
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := pipeline.ParseTask(args[0])
			if err != nil {
				return err
			}
			return withApplication(cmd.Context(), task.Delivers(), func(a *application) error {
				rep := a.orch.Run(cmd.Context(), task)
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if rep.Failed() {
					return fmt.Errorf("task %s failed at %s", task, rep.FailedAt)
				}
				return nil
			})
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show crawl statistics, posting counts and component health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), false, func(a *application) error {
				st, err := a.orch.Status(cmd.Context())
				if err != nil {
					return err
				}
				health := a.orch.Health(cmd.Context())
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": st, "health": health})
			})
		},
	}
}

func addUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-user <email>",
		Short: "Subscribe a user with the default category limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), false, func(a *application) error {
				u, err := a.orch.AddUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), u)
			})
		},
	}
}

func testEmailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-email <email>",
		Short: "Send a digest to an address to verify email delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), true, func(a *application) error {
				if err := a.orch.TestEmail(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Test email sent to %s\n", args[0])
				return err
			})
		},
	}
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Check storage connectivity and create indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), false, func(a *application) error {
				if err := a.orch.Init(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Storage initialized")
				return err
			})
		},
	}
}

func cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete raw pages and crawl logs older than --days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), false, func(a *application) error {
				res, err := a.orch.Cleanup(cmd.Context(), days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "age in days of data to delete")
	return cmd
}
