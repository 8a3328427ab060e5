package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest pipeline run and corpus counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Pipeline Status ==="))

		stats, err := store.GetCorpusStats(ctx, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read corpus: %v\n", err)
			os.Exit(1)
		}
		opps, err := store.ListOpportunities(ctx, types.OpportunityActive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list opportunities: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s\n", yellow("Corpus:"))
		fmt.Printf("  Signals:       %d\n", stats.SignalCount)
		fmt.Printf("  Extracted:     %d\n", stats.ExtractionCount)
		fmt.Printf("  Opportunities: %d\n", len(opps))
		if !stats.MaxSignalCreatedAt.IsZero() {
			fmt.Printf("  Newest signal: %s\n", stats.MaxSignalCreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()

		var state *types.PipelineRunState
		if statusRunID != "" {
			state, err = store.GetRunState(ctx, statusRunID)
		} else {
			state, err = store.GetLatestRunState(ctx)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load run state: %v\n", err)
			os.Exit(1)
		}
		if state == nil {
			fmt.Printf("%s\n", gray("No pipeline runs yet"))
			return
		}

		fmt.Printf("%s %s\n", yellow("Run:"), state.RunID)
		fmt.Printf("  Started: %s (updated %s ago)\n",
			state.StartedAt.Format("2006-01-02 15:04:05"),
			time.Since(state.UpdatedAt).Round(time.Second))
		fmt.Printf("  Corpus signature: %d signals\n", state.Signature.SignalCount)
		fmt.Println()

		for _, name := range types.StageOrder {
			st := state.Stage(name)
			icon, paint := "○", gray
			switch st.Status {
			case types.StageCompleted:
				icon, paint = "●", green
			case types.StageRunning:
				icon, paint = "►", yellow
			case types.StageFailed:
				icon, paint = "✗", red
			case types.StageSkipped:
				icon, paint = "⊘", gray
			}
			line := fmt.Sprintf("  %s %-18s %s", paint(icon), name, paint(string(st.Status)))
			if st.Result != nil {
				line += fmt.Sprintf("  (processed=%d merged=%d created=%d failed=%d)",
					st.Result.Processed, st.Result.Merged, st.Result.Created, st.Result.Failed)
			}
			fmt.Println(line)
			if st.Error != "" {
				fmt.Printf("      %s\n", red(st.Error))
			}
		}
		fmt.Println()

		if state.Completed() {
			fmt.Printf("%s All stages completed\n", green("✓"))
		} else if failed := state.FailedStages(); len(failed) > 0 {
			fmt.Printf("%s Run degraded (%d failed stage(s))\n", red("✗"), len(failed))
		} else {
			fmt.Printf("%s Run in progress or interrupted; use 'pmi run --resume'\n", yellow("…"))
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "show a specific run instead of the latest")
	rootCmd.AddCommand(statusCmd)
}
