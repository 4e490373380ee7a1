// Package scraper runs the external scraping process and interprets its
// output contract: a total-pages line, a total-records line, and the path of
// the output artifact.
package scraper

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/tender-ingest/internal/config"
	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
)

// Stdout lines the orchestrator cares about. Everything else is informational.
var (
	totalPagesRe   = regexp.MustCompile(`Total pages detected:\s*(\d+)`)
	totalScrapedRe = regexp.MustCompile(`Total tenders scraped:\s*(\d+)`)
	resultsPathRe  = regexp.MustCompile(`Results saved to:\s*(\S+\.csv)`)
)

// RunOutput is the parsed outcome of one successful scraper invocation.
type RunOutput struct {
	TotalPages   int
	TotalRecords int
	ArtifactPath string
}

// ProgressFunc receives parsed page/record counts while the process runs.
type ProgressFunc func(pages, records int)

// Runner executes the scraper binary as a subprocess.
type Runner struct {
	cfg    *config.ScraperConfig
	logger *logging.Logger
}

// NewRunner creates a process runner for the configured scraper install.
func NewRunner(cfg *config.ScraperConfig, logger *logging.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// buildArgs translates job options into the scraper CLI contract:
// --mode scrape --headless <bool> --workers <n> [--min-value <n>] [--days-left <n>]
func (r *Runner) buildArgs(opts models.JobOptions) []string {
	workers := opts.Workers
	if workers <= 0 {
		workers = r.cfg.DefaultWorkers
	}

	args := []string{
		"--mode", "scrape",
		"--headless", strconv.FormatBool(opts.Headless),
		"--workers", strconv.Itoa(workers),
	}
	if opts.MinValue > 0 {
		args = append(args, "--min-value", strconv.FormatFloat(opts.MinValue, 'f', -1, 64))
	}
	if opts.MaxDaysLeft != nil {
		args = append(args, "--days-left", strconv.Itoa(*opts.MaxDaysLeft))
	}
	return args
}

// Run starts the scraper, streams its stdout, and waits for exit. A non-zero
// exit or spawn failure is transient (retryable). A clean exit without a
// discoverable artifact is fatal: it indicates a logic bug, not a flaky run.
func (r *Runner) Run(ctx context.Context, opts models.JobOptions, onProgress ProgressFunc) (*RunOutput, error) {
	args := r.buildArgs(opts)

	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	cmd.Dir = r.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pipeerrors.NewProcessError("failed to open scraper stdout", err)
	}
	cmd.Stderr = cmd.Stdout

	logger := r.logger.WithFields(map[string]interface{}{
		"binary": r.cfg.BinaryPath,
		"args":   strings.Join(args, " "),
	})
	logger.Info("Starting scraper process")

	if err := cmd.Start(); err != nil {
		return nil, pipeerrors.NewProcessError("failed to spawn scraper process", err)
	}

	out := &RunOutput{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.parseLine(line, out, onProgress)
		logger.WithField("line", line).Debug("scraper output")
	}

	if err := cmd.Wait(); err != nil {
		return nil, pipeerrors.NewProcessError(
			fmt.Sprintf("scraper process exited abnormally: %v", err), err)
	}

	if out.ArtifactPath == "" {
		return nil, pipeerrors.NewMissingArtifactError(r.cfg.WorkDir)
	}

	// The scraper reports paths relative to its working directory.
	if !strings.HasPrefix(out.ArtifactPath, "/") {
		out.ArtifactPath = r.cfg.WorkDir + "/" + out.ArtifactPath
	}

	if _, err := os.Stat(out.ArtifactPath); err != nil {
		return nil, pipeerrors.NewMissingArtifactError(out.ArtifactPath)
	}

	logger.WithFields(map[string]interface{}{
		"pages":    out.TotalPages,
		"records":  out.TotalRecords,
		"artifact": out.ArtifactPath,
	}).Info("Scraper process finished")

	return out, nil
}

func (r *Runner) parseLine(line string, out *RunOutput, onProgress ProgressFunc) {
	changed := false

	if m := totalPagesRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.TotalPages = n
			changed = true
		}
	}
	if m := totalScrapedRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.TotalRecords = n
			changed = true
		}
	}
	if m := resultsPathRe.FindStringSubmatch(line); m != nil {
		out.ArtifactPath = m[1]
	}

	if changed && onProgress != nil {
		onProgress(out.TotalPages, out.TotalRecords)
	}
}
