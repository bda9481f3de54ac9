package main

import (
	"encoding/json"
	"fmt"

	"finrecon/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>",
		Short: "Process one document",
		Long:  `Run the reconciliation pipeline for one document and print the result as JSON.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[0], err)
			}

			application, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			defer logger.Sync()

			resp, err := application.DocumentService.ProcessDocument(cmd.Context(), documentID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}
