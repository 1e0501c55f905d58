package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gorillaerror/xui-central/pkg/api"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Run a spreadsheet roster import",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := callAPI[api.ImportReport](http.MethodPost, "/api/v1/import",
			api.ImportRequest{DryRun: importDryRun})
		if err != nil {
			return err
		}

		mode := "applied"
		if report.DryRun {
			mode = "dry run"
		}
		fmt.Printf("import (%s): created=%d enabled=%d disabled=%d skipped=%d failed=%d\n",
			mode, report.Created, report.Enabled, report.Disabled, report.Skipped, report.Failed)
		for _, row := range report.Rows {
			if row.Action == "skip" {
				continue
			}
			if row.Error != "" {
				fmt.Printf("  %s\t%s\t%s\n", row.Action, row.Email, row.Error)
			} else {
				fmt.Printf("  %s\t%s\n", row.Action, row.Email)
			}
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false,
		"report what would change without applying it")
	rootCmd.AddCommand(importCmd)
}
