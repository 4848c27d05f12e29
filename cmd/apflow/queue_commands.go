package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"apflow/internal/queue"
	"apflow/internal/storage"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the stage queues",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePauseCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))

	return queueCmd
}

func stageArg(raw string) (queue.Stage, error) {
	stage := queue.Stage(raw)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage %q (valid: split, parse, match, bill, write, notify)", raw)
	}
	return stage, nil
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-stage job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Stage", "Waiting", "Delayed", "Running", "Completed", "Failed", "Paused"},
					rows, 2, 3, 4, 5, 6))
				return nil
			})
		},
	}
}

func buildQueueStatusRows(stats map[queue.Stage]*queue.StageStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, stage := range queue.Stages() {
		entry := stats[stage]
		if entry == nil {
			continue
		}
		rows = append(rows, []string{
			string(stage),
			strconv.Itoa(entry.Waiting),
			strconv.Itoa(entry.Delayed),
			strconv.Itoa(entry.Running),
			strconv.Itoa(entry.Completed),
			strconv.Itoa(entry.Failed),
			yesNo(entry.Paused),
		})
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "list <stage>",
		Short: "List jobs in a stage queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			if statusFilter != "" && !queue.Status(statusFilter).Valid() {
				return fmt.Errorf("unknown status %q (valid: waiting, running, completed, failed)", statusFilter)
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				jobs, err := store.List(cmd.Context(), stage, queue.Status(statusFilter), limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.CorrelationID,
						string(job.Status),
						strconv.Itoa(job.RetryCount),
						job.EnqueuedAt.Local().Format(time.DateTime),
						truncate(job.LastError, 60),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Correlation ID", "Status", "Retries", "Enqueued", "Last Error"},
					rows, 3))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by job status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to show")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <stage>",
		Short: "Return a stage's failed jobs to waiting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				retried, err := store.RetryFailed(cmd.Context(), stage)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed jobs in %s\n", retried, stage)
				return nil
			})
		},
	}
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <stage>",
		Short: "Stop workers from claiming jobs in a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				if err := store.Pause(cmd.Context(), stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", stage)
				return nil
			})
		},
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <stage>",
		Short: "Allow workers to claim jobs in a paused stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				if err := store.Resume(cmd.Context(), stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", stage)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <stage>",
		Short: "Remove a stage's completed jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				cleared, err := store.ClearCompleted(cmd.Context(), stage)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed jobs from %s\n", cleared, stage)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <stage> <correlationID>",
		Short: "Delete a single job from a stage queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := stageArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), stage, args[1])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no job %s in stage %s", args[1], stage)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[1], stage)
				return nil
			})
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return jobs stuck in running back to waiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(_ *storage.DB, store *queue.Store) error {
				reset, err := store.ResetStuckRunning(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", reset)
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
