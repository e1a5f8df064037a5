package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var typeFilter, project string
	var topK int

	cmd := &cobra.Command{
		Use:   "analyze <error text>",
		Short: "Find chunks relevant to an error message",
		Args:  cobra.MinimumNArgs(1),
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

			query := strings.Join(args, " ")
			matches, err := a.searcher.Search(cmd.Context(), searcher.Request{
				Query:   query,
				Type:    typeFilter,
				Project: project,
				TopK:    topK,
			})
			if err != nil {
				return err
			}
			printMatches(matches)
			return nil
		},
	}

	cmd.Flags().StringVar(&typeFilter, "type", "", "Only return chunks of this type (src, doc, test, other)")
	cmd.Flags().StringVar(&project, "project", "", "Restrict results to one project")
	cmd.Flags().IntVarP(&topK, "top-k", "k", searcher.DefaultTopK, "Maximum number of results")
	return cmd
}

func printMatches(matches []types.Match) {
	titleColor := color.New(color.FgHiCyan, color.Bold)
	scoreColor := color.New(color.FgHiGreen)
	dimColor := color.New(color.FgHiBlack)

	if len(matches) == 0 {
		dimColor.Println("  No matching chunks")
		return
	}

	for i, m := range matches {
		fmt.Println()
		titleColor.Printf("  %d. %s", i+1, m.FilePath)
		dimColor.Printf(" [%s] %s bytes %d-%d\n", m.Type, m.ProjectName, m.OffsetRange.Start, m.OffsetRange.End)
		scoreColor.Printf("     score %.4f", m.Score)
		dimColor.Printf("  %s\n", m.FileURL)
		for _, line := range strings.Split(strings.TrimRight(m.Snippet, "\n"), "\n") {
			fmt.Printf("     %s\n", line)
		}
	}
}
