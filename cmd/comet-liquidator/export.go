package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/comet-liquidator/internal/storage"
	"github.com/spf13/cobra"
)

var flagExportFormat string

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the attempt journal as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unsupported format: %s", flagExportFormat)
		}

		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		attempts, err := store.RecentAttempts(cmd.Context(), 0)
		if err != nil {
			return err
		}
		if format == "csv" {
			return writeAttemptsCSV(cmd.OutOrStdout(), attempts)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(attempts)
	},
}

func writeAttemptsCSV(w io.Writer, attempts []storage.Attempt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "created_at", "strategy", "outcome", "tx_hash", "targets", "reason", "primary_error"}); err != nil {
		return err
	}
	for _, a := range attempts {
		row := []string{
			strconv.FormatInt(a.ID, 10),
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.Strategy,
			a.Outcome,
			a.TxHash,
			strings.Join(a.Targets, ";"),
			a.Reason,
			a.PrimaryError,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
