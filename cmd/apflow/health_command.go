package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"apflow/internal/pipeline"
	"apflow/internal/queue"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the running daemon's pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var health pipeline.Health
			if _, err := client.get(cmd.Context(), "/api/v1/health", &health); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintln(out, "Pipeline healthy")
			} else {
				fmt.Fprintln(out, "Pipeline needs attention:")
				for _, issue := range health.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			fmt.Fprintf(out, "Total jobs: %d\nActive workers: %d\n", health.TotalJobs, health.ActiveWorkers)
			if health.OldestWaitingAge != "" {
				fmt.Fprintf(out, "Oldest waiting job: %s\n", health.OldestWaitingAge)
			}
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the running daemon's per-stage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			stats := make(map[queue.Stage]*pipeline.StageStatus)
			if _, err := client.get(cmd.Context(), "/api/v1/stats", &stats); err != nil {
				return err
			}

			rows := make([][]string, 0, len(stats))
			for _, stage := range queue.Stages() {
				entry := stats[stage]
				if entry == nil {
					continue
				}
				rows = append(rows, []string{
					string(stage),
					strconv.Itoa(entry.WorkerCount),
					strconv.Itoa(entry.Waiting),
					strconv.Itoa(entry.Delayed),
					strconv.Itoa(entry.Running),
					strconv.Itoa(entry.Completed),
					strconv.Itoa(entry.Failed),
					yesNo(entry.Paused),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Stage", "Workers", "Waiting", "Delayed", "Running", "Completed", "Failed", "Paused"},
				rows, 2, 3, 4, 5, 6, 7))
			return nil
		},
	}
}
