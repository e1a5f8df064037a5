package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/debugctx-mcp/internal/mcp"
)

func newServeCmd(configPath *string) *cobra.Command {
	var transport, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server over stdio (default) or HTTP with server-sent events.

Logs go to stderr; stdout carries the protocol when using stdio.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Server.Transport = transport
			}
			if addr == "" {
				addr = cfg.Server.Addr()
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(mcp.Deps{
				State:    a.state,
				Indexer:  a.indexer,
				Searcher: a.searcher,
				Logger:   a.logger,
				Version:  version,
			})
			if err != nil {
				return err
			}

			err = srv.Serve(ctx, cfg.Server.Transport, addr)
			a.logger.Info("server.stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio or sse (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "SSE listen address (default server.host:server.port)")
	return cmd
}
