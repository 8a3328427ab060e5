package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
)

var (
	dbPath string
	store  storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "pmi",
	Short: "Product intelligence pipeline over customer feedback signals",
	Long: `pmi ingests customer feedback signals, deduplicates them, resolves
entity mentions, clusters them into opportunities, and drafts tickets
for the biggest ones.

State lives in a local SQLite database (default .pmi/pipeline.db).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		store, err = storage.NewStorage(context.Background(), &storage.Config{Path: dbPath})
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", dbPath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", storage.DefaultConfig().Path,
		"path to the pipeline database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
