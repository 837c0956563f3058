package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/genusglobalinc/leadbot/internal/storage"
)

var exportOutputPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted leads from the database to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("export requires DB_URL to be set")
		}

		db, err := storage.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.LoadLeads()
		if err != nil {
			return err
		}
		if err := storage.ExportXLSX(exportOutputPath, records); err != nil {
			return err
		}

		fmt.Printf("Exported %d leads to %s\n", len(records), exportOutputPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutputPath, "output", "o", "leads.xlsx", "output .xlsx path")
	rootCmd.AddCommand(exportCmd)
}
