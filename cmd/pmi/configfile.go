package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anusharmadobe/pm-intelligence-system/internal/pipeline"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// pipelineFile is the YAML shape of --config. Every field is optional;
// flags given on the command line win over file values.
type pipelineFile struct {
	Resume         bool     `yaml:"resume"`
	ResumeFrom     string   `yaml:"resume_from"`
	RunID          string   `yaml:"run_id"`
	SourceFilter   string   `yaml:"source_filter"`
	ImportPath     string   `yaml:"import_path"`
	MaxJira        *int     `yaml:"max_jira"`
	OutputDir      string   `yaml:"output_dir"`
	SkipStages     []string `yaml:"skip_stages"`
	EmbedBatchSize *int     `yaml:"embed_batch_size"`
}

// applyConfigFile overlays YAML settings onto the default config
func applyConfigFile(path string, cfg *pipeline.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.Resume = cfg.Resume || file.Resume
	if file.ResumeFrom != "" {
		cfg.ResumeFrom = types.StageName(file.ResumeFrom)
	}
	if file.RunID != "" {
		cfg.RunID = file.RunID
	}
	if file.SourceFilter != "" {
		cfg.SourceFilter = file.SourceFilter
	}
	if file.ImportPath != "" {
		cfg.ImportPath = file.ImportPath
	}
	if file.MaxJira != nil {
		cfg.MaxJira = *file.MaxJira
	}
	if file.OutputDir != "" {
		cfg.OutputDir = file.OutputDir
	}
	for _, name := range file.SkipStages {
		cfg.SkipStages = append(cfg.SkipStages, types.StageName(name))
	}
	if file.EmbedBatchSize != nil {
		cfg.EmbedBatchSize = *file.EmbedBatchSize
	}
	return nil
}
