package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var supplierHint string
	var attachmentID string

	cmd := &cobra.Command{
		Use:   "process <pdf>",
		Short: "Submit an invoice PDF to the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve pdf path: %w", err)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("pdf not readable: %w", err)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}

			var resp struct {
				CorrelationID string `json:"correlationId"`
			}
			body := map[string]string{
				"pdfPath":      path,
				"attachmentId": attachmentID,
				"supplierHint": supplierHint,
			}
			if _, err := client.post(cmd.Context(), "/api/v1/documents", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Accepted %s\nCorrelation ID: %s\n", filepath.Base(path), resp.CorrelationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&supplierHint, "supplier", "", "Supplier name hint for extraction")
	cmd.Flags().StringVar(&attachmentID, "attachment", "", "Upstream attachment identifier")
	return cmd
}
