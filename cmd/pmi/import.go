package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anusharmadobe/pm-intelligence-system/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import signals from a JSONL file",
	Long: `Import one signal per line from a JSONL file. Each record is
normalized and given a quality score; records whose id already exists
are skipped. Malformed lines are reported but never abort the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ingester, err := ingest.NewIngester(store)
		if err != nil {
			return err
		}

		result, err := ingester.ImportJSONL(context.Background(), args[0])
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %d imported, %d skipped, %d failed\n",
			green("✓"), result.Imported, result.Skipped, result.Failed)
		if result.Failed > 0 {
			fmt.Fprintf(os.Stderr, "Some records failed; see warnings above\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
