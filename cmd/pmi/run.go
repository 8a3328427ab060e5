package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anusharmadobe/pm-intelligence-system/internal/pipeline"
	"github.com/anusharmadobe/pm-intelligence-system/internal/provider"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

var (
	runResume     bool
	runResumeFrom string
	runRunID      string
	runSource     string
	runImportPath string
	runMaxJira    int
	runOutputDir  string
	runConfigFile string
	runSkipStage  map[types.StageName]*bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the signal pipeline end to end",
	Long: `Run the pipeline stages in order: initialization, ingestion,
embeddings, deduplication, clustering, opportunity_merge,
jira_generation, export.

The run checkpoints after every stage. A killed run can be resumed with
--resume; completed stages are skipped as long as the signal corpus has
not changed underneath the checkpoint.

Exits 0 only when every stage completed; a failed stage degrades the run
(later stages still execute) and yields a non-zero exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := pipeline.DefaultConfig()
		if runConfigFile != "" {
			if err := applyConfigFile(runConfigFile, &cfg); err != nil {
				return err
			}
		}

		// Flags override the config file
		cfg.Resume = cfg.Resume || runResume
		if runResumeFrom != "" {
			cfg.ResumeFrom = types.StageName(runResumeFrom)
		}
		if runRunID != "" {
			cfg.RunID = runRunID
		}
		if runSource != "" {
			cfg.SourceFilter = runSource
		}
		if runImportPath != "" {
			cfg.ImportPath = runImportPath
		}
		if cmd.Flags().Changed("max-jira") {
			cfg.MaxJira = runMaxJira
		}
		if cmd.Flags().Changed("output") {
			cfg.OutputDir = runOutputDir
		}
		for name, skip := range runSkipStage {
			if *skip {
				cfg.SkipStages = append(cfg.SkipStages, name)
			}
		}

		p, err := provider.New(provider.ConfigFromEnv())
		if err != nil {
			return fmt.Errorf("failed to create provider: %w", err)
		}

		orch, err := pipeline.NewOrchestrator(store, p, cfg)
		if err != nil {
			return fmt.Errorf("failed to create orchestrator: %w", err)
		}

		// First signal requests a cooperative stop at the next stage
		// boundary; a second one kills the process.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintf(os.Stderr, "\nInterrupt received, stopping after current stage (Ctrl+C again to force)\n")
			orch.Stop()
			<-sigCh
			os.Exit(130)
		}()

		if err := orch.Run(context.Background()); err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Pipeline run completed\n", green("✓"))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume the latest (or --run-id) checkpointed run")
	runCmd.Flags().StringVar(&runResumeFrom, "resume-from", "", "skip all stages before this one")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "run identifier (default: generated, or latest on --resume)")
	runCmd.Flags().StringVar(&runSource, "source", "", "restrict the run to one signal source")
	runCmd.Flags().StringVar(&runImportPath, "import", "", "JSONL file to import during ingestion")
	runCmd.Flags().IntVar(&runMaxJira, "max-jira", pipeline.DefaultConfig().MaxJira, "maximum ticket drafts to generate (0 disables)")
	runCmd.Flags().StringVar(&runOutputDir, "output", pipeline.DefaultConfig().OutputDir, "directory for the run report")
	runCmd.Flags().StringVar(&runConfigFile, "config", "", "YAML pipeline config file")

	runSkipStage = make(map[types.StageName]*bool, len(types.StageOrder))
	for _, name := range types.StageOrder {
		skip := false
		runSkipStage[name] = &skip
		runCmd.Flags().BoolVar(&skip, "skip-"+string(name), false,
			fmt.Sprintf("skip the %s stage", name))
	}

	rootCmd.AddCommand(runCmd)
}
