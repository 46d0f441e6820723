package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sablefin/mintd/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// getTemporalClient connects to Temporal using the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		logger,
	)
}

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "upsert-schedule",
		Usage: "Create or update the reconcile schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "How often the reconcile pass runs",
				Value: 5 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only re-check pending authorizations older than this",
				Value: 10 * time.Minute,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum pending authorizations per pass",
				Value: 100,
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue the reconcile workflow runs on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintd-reconcile",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.ReconcileInput{
				OlderThan: c.Duration("older-than"),
				BatchSize: int32(c.Int("batch-size")),
			}
			if err := tc.UpsertReconcileSchedule(context.Background(), c.Duration("interval"), input); err != nil {
				return fmt.Errorf("failed to upsert schedule: %w", err)
			}

			fmt.Printf("✓ Reconcile schedule upserted (every %s, older-than %s, batch %d)\n",
				c.Duration("interval"), c.Duration("older-than"), c.Int("batch-size"))
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the reconcile schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue the reconcile workflow runs on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintd-reconcile",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteReconcileSchedule(context.Background()); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Println("✓ Reconcile schedule deleted")
			return nil
		},
	}
}

func runReconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-reconcile",
		Usage: "Run one reconcile pass immediately",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only re-check pending authorizations older than this",
				Value: 10 * time.Minute,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum pending authorizations per pass",
				Value: 100,
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue the reconcile workflow runs on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintd-reconcile",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			input := temporal.ReconcileInput{
				OlderThan: c.Duration("older-than"),
				BatchSize: int32(c.Int("batch-size")),
			}

			run, err := tc.SDKClient().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        fmt.Sprintf("reconcile-manual-%d", time.Now().Unix()),
				TaskQueue: tc.TaskQueue(),
			}, "ReconcileWorkflow", input)
			if err != nil {
				return fmt.Errorf("failed to start reconcile workflow: %w", err)
			}

			fmt.Printf("⧗ Reconcile workflow started (%s), waiting...\n", run.GetID())

			var result temporal.ReconcileResult
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("reconcile workflow failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Reconcile pass complete\n")
			fmt.Printf("  Checked:    %d\n", result.Checked)
			fmt.Printf("  Confirmed:  %d\n", result.Confirmed)
			fmt.Printf("  Rejected:   %d\n", result.Rejected)
			fmt.Printf("  Still open: %d\n", result.StillOpen)
			return nil
		},
	}
}
