package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"apflow/internal/holds"
	"apflow/internal/storage"
)

func newHoldsCommand(ctx *commandContext) *cobra.Command {
	holdsCmd := &cobra.Command{
		Use:   "holds",
		Short: "Review and resolve document holds",
	}

	holdsCmd.AddCommand(newHoldsListCommand(ctx))
	holdsCmd.AddCommand(newHoldsResolveCommand(ctx))

	return holdsCmd
}

func newHoldsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var reasonFilter string
	var documentID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List holds, open ones by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := holds.NewStore(db)
			list, err := store.List(cmd.Context(), holds.Filter{
				Status:     holds.Status(statusFilter),
				Reason:     holds.Reason(reasonFilter),
				DocumentID: documentID,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No holds")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, hold := range list {
				rows = append(rows, []string{
					strconv.FormatInt(hold.ID, 10),
					strconv.FormatInt(hold.DocumentID, 10),
					string(hold.Reason),
					string(hold.Status),
					hold.CreatedAt.Local().Format(time.DateTime),
					truncate(hold.Details, 50),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Document", "Reason", "Status", "Created", "Details"},
				rows, 1, 2))
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", string(holds.StatusOpen), "Filter by hold status (OPEN, RESOLVED, or empty for all)")
	cmd.Flags().StringVarP(&reasonFilter, "reason", "r", "", "Filter by hold reason")
	cmd.Flags().Int64VarP(&documentID, "document", "d", 0, "Filter by document id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of holds to show")
	return cmd
}

func newHoldsResolveCommand(ctx *commandContext) *cobra.Command {
	var action string
	var note string
	var resolvedBy string
	var jobID int64
	var vendorID int64
	var allowVariance bool
	var markAsStock bool

	cmd := &cobra.Command{
		Use:   "resolve <holdID>",
		Short: "Resolve a hold through the running daemon",
		Long: "Resolve a hold through the running daemon. Approvals with a job or\n" +
			"vendor assignment re-enter the pipeline at the bill stage.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holdID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid hold id %q", args[0])
			}
			switch action {
			case holds.ResolutionApprove, holds.ResolutionReject, holds.ResolutionOverride:
			default:
				return fmt.Errorf("invalid action %q (valid: approve, reject, override)", action)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}

			body := map[string]any{
				"action":        action,
				"resolution":    note,
				"resolvedBy":    resolvedBy,
				"jobId":         jobID,
				"vendorId":      vendorID,
				"allowVariance": allowVariance,
				"markAsStock":   markAsStock,
			}
			var resolved holds.Hold
			path := fmt.Sprintf("/api/v1/holds/%d/resolve", holdID)
			if _, err := client.post(cmd.Context(), path, body, &resolved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Hold %d resolved (%s) on document %d\n",
				resolved.ID, action, resolved.DocumentID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", "", "Resolution action: approve, reject, or override")
	cmd.Flags().StringVar(&note, "note", "", "Free-text resolution note")
	cmd.Flags().StringVar(&resolvedBy, "by", "", "Name of the reviewer")
	cmd.Flags().Int64Var(&jobID, "job", 0, "Job to assign the document to")
	cmd.Flags().Int64Var(&vendorID, "vendor", 0, "Vendor to assign the document to")
	cmd.Flags().BoolVar(&allowVariance, "allow-variance", false, "Accept the price variance on this document")
	cmd.Flags().BoolVar(&markAsStock, "stock", false, "Treat the document as truck or warehouse stock")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
