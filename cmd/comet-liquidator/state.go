package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/devblac/comet-liquidator/internal/config"
	"github.com/devblac/comet-liquidator/internal/storage"
	"github.com/spf13/cobra"
)

var flagStateLimit int

func init() {
	stateCmd.Flags().IntVar(&flagStateLimit, "limit", 20, "Number of recent attempts to show")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show recent liquidation attempts from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		attempts, err := store.RecentAttempts(cmd.Context(), flagStateLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(attempts) == 0 {
			fmt.Fprintln(out, "no attempts recorded")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIME\tSTRATEGY\tOUTCOME\tTARGETS\tTX\tREASON")
		for _, a := range attempts {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				a.ID,
				a.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
				a.Strategy,
				a.Outcome,
				len(a.Targets),
				dash(a.TxHash),
				dash(oneLine(a.Reason)),
			)
		}
		return tw.Flush()
	},
}

func openJournal() (*storage.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Global.DBPath == "" {
		return nil, errors.New("global.db_path is not set; the attempt journal is disabled")
	}
	return storage.Open(cfg.Global.DBPath)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
