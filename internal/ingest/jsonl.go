package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// maxLineBytes bounds a single JSONL record. Scraper dumps occasionally
// carry whole document bodies in one line.
const maxLineBytes = 4 * 1024 * 1024

// ImportResult reports the outcome of a batch import
type ImportResult struct {
	Imported int
	Skipped  int // already-present signal IDs
	Failed   int // malformed or invalid records
}

// ImportJSONL reads one signal per line from a JSONL file and ingests
// each. A bad record is counted and logged but never aborts the batch;
// records whose ID already exists are skipped.
func (in *Ingester) ImportJSONL(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result := &ImportResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var sig types.Signal
		if err := json.Unmarshal([]byte(line), &sig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s line %d: malformed record: %v\n", path, lineNo, err)
			result.Failed++
			continue
		}

		if err := in.Ingest(ctx, &sig); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				result.Skipped++
				continue
			}
			fmt.Fprintf(os.Stderr, "Warning: %s line %d: %v\n", path, lineNo, err)
			result.Failed++
			continue
		}
		result.Imported++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed reading %s: %w", path, err)
	}

	fmt.Printf("Imported %d signals from %s (%d skipped, %d failed)\n",
		result.Imported, path, result.Skipped, result.Failed)
	return result, nil
}
