package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/storage"
	"github.com/genusglobalinc/leadbot/internal/targets"
)

var (
	runTargetsPath string
	runOutputPath  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a CSV of targets and report the final tally",
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := targets.LoadCSV(runTargetsPath)
		if err != nil {
			return err
		}
		if len(ts) == 0 {
			return fmt.Errorf("no targets in %s", runTargetsPath)
		}

		d, st := buildDispatcher()

		// SIGINT cancels the batch; in-flight records end failed/cancelled.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tally, err := d.Run(ctx, ts)
		if err != nil {
			return err
		}

		fmt.Printf("Batch complete: %d enriched, %d failed (of %d)\n",
			tally.Enriched, tally.Failed, tally.Total)
		for reason, n := range tally.Reasons {
			fmt.Printf("  %-24s %d\n", reason, n)
		}

		snapshot := st.Snapshot()
		if cfg.DatabaseURL != "" {
			db, err := storage.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SaveLeads(snapshot); err != nil {
				return err
			}
		}
		if runOutputPath != "" {
			if err := storage.ExportXLSX(runOutputPath, snapshot); err != nil {
				return err
			}
		}

		zap.L().Info("run: finished",
			zap.Int("enriched", tally.Enriched),
			zap.Int("failed", tally.Failed),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTargetsPath, "targets", "t", "", "CSV file of targets (required)")
	runCmd.Flags().StringVarP(&runOutputPath, "output", "o", "", "write results to this .xlsx file")
	_ = runCmd.MarkFlagRequired("targets")
	rootCmd.AddCommand(runCmd)
}
