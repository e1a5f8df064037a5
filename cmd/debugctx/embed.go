package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/debugctx-mcp/internal/embedder"
)

// newEmbedCmd checks that the configured embedding provider answers and
// returns vectors of the expected dimension
func newEmbedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed a text with the configured provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			emb, err := embedder.New(embedder.Config{
				Provider:   cfg.Embedding.Provider,
				APIKey:     cfg.Embedding.APIKey,
				BaseURL:    cfg.Embedding.BaseURL,
				Model:      cfg.Embedding.Model,
				Dimensions: cfg.Embedding.Dimensions,
				Timeout:    cfg.Embedding.Timeout,
			})
			if err != nil {
				return err
			}
			defer emb.Close()

			start := time.Now()
			out, err := emb.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: strings.Join(args, " ")})
			if err != nil {
				color.New(color.FgHiRed).Printf("✗ %s/%s: %v\n", emb.Provider(), emb.Model(), err)
				return err
			}

			fmt.Printf("Provider:  %s\n", out.Provider)
			fmt.Printf("Model:     %s\n", out.Model)
			fmt.Printf("Dimension: %d\n", len(out.Vector))
			fmt.Printf("Latency:   %s\n", time.Since(start).Round(time.Millisecond))
			n := min(len(out.Vector), 5)
			fmt.Printf("Head:      %v\n", out.Vector[:n])

			if len(out.Vector) != emb.Dimension() {
				return fmt.Errorf("provider returned %d dimensions, expected %d", len(out.Vector), emb.Dimension())
			}
			color.New(color.FgHiGreen).Println("✓ embedding provider is working")
			return nil
		},
	}
}
