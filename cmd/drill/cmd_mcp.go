package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/felixgeelhaar/drill/internal/mcp"
)

// newMCPCmd serves the review tools over stdio for editor and assistant integrations
func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mcpserver.NewServer(mcpserver.Config{
				Service:        a.service,
				Version:        Version,
				DefaultLearner: a.v.GetString(learnerKey),
				DailyCapacity:  a.cfg.Review.DailyCapacity,
				Now:            a.now,
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
