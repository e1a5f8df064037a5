package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

func newIngestCmd(configPath *string) *cobra.Command {
	var project, ref string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <repo>",
		Short: "Ingest or re-sync a repository",
		Long: `Ingest a GitHub repository (https://github.com/owner/repo or owner/repo)
or a local directory. Re-running only processes files that changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req := indexer.Request{RepoURL: args[0], ProjectName: project, Ref: ref}
			var bar *phaseBar
			if !quiet {
				bar = &phaseBar{}
				req.Progress = bar.update
			}

			result, err := a.indexer.Ingest(cmd.Context(), req)
			bar.finish()
			if err != nil {
				return err
			}

			printJobResult(result)
			if result.Status == types.StatusFailed {
				return fmt.Errorf("ingestion of %s failed", result.Project)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project name (default owner-repo or the directory name)")
	cmd.Flags().StringVar(&ref, "ref", "", "Branch, tag or commit (default branch when empty)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	return cmd
}

// phaseBar shows one progress bar per ingestion phase on stderr
type phaseBar struct {
	bar   *progressbar.ProgressBar
	phase string
}

func (p *phaseBar) update(current, total int, phase string) {
	if phase != p.phase {
		p.finish()
		p.phase = phase
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(phaseDescription(phase)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}
	_ = p.bar.Set(current)
}

func (p *phaseBar) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

func phaseDescription(phase string) string {
	switch phase {
	case "fetch":
		return "Fetching files     "
	case "diff":
		return "Comparing snapshot "
	case "chunk":
		return "Chunking files     "
	case "embed":
		return "Embedding chunks   "
	case "upsert":
		return "Writing vectors    "
	case "finalize":
		return "Recording state    "
	case "delete":
		return "Removing files     "
	default:
		return phase
	}
}

func printJobResult(r *types.JobResult) {
	titleColor := color.New(color.FgHiCyan, color.Bold)
	successColor := color.New(color.FgHiGreen)
	warnColor := color.New(color.FgHiYellow)
	errColor := color.New(color.FgHiRed)
	dimColor := color.New(color.FgHiBlack)

	fmt.Println()
	titleColor.Printf("  Ingestion %s\n", r.State)
	dimColor.Printf("  %s (%s)", r.Project, r.RepoURL)
	if r.Commit != "" {
		dimColor.Printf(" @ %s", shortCommit(r.Commit))
	}
	fmt.Println()
	fmt.Println()

	switch r.Status {
	case types.StatusSuccess:
		successColor.Printf("  Status: %s\n", r.Status)
	case types.StatusPartial:
		warnColor.Printf("  Status: %s\n", r.Status)
	default:
		errColor.Printf("  Status: %s\n", r.Status)
	}

	fmt.Printf("  Files:  %d added, %d modified, %d deleted, %d unchanged\n",
		r.FilesAdded, r.FilesModified, r.FilesDeleted, r.FilesUnchanged)
	fmt.Printf("  Chunks: %d embedded\n", r.ChunksEmbedded)
	fmt.Printf("  Points: %d upserted, %d refreshed, %d deleted\n",
		r.PointsUpserted, r.PointsRefreshed, r.PointsDeleted)
	dimColor.Printf("  Took %s (job %s)\n", r.Duration.Round(time.Millisecond), r.JobID)

	if len(r.Errors) > 0 {
		fmt.Println()
		warnColor.Printf("  %d file errors:\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("    %s ", e.Path)
			dimColor.Printf("[%s] ", e.Kind)
			fmt.Println(e.Message)
		}
	}
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
