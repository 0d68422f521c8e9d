package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/voxhq/vox/internal/mcpserver"
	"github.com/voxhq/vox/internal/session"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve session tools over MCP on stdin/stdout",
	Long: `mcp runs an MCP server on stdio so agents can start and stop recording
and read the notes of the current session. Logs are written to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.close()

		var history mcpserver.History
		if svc.store != nil {
			history = svc.store
		}
		srv := mcpserver.New(session.NewScope(svc.controller), history, version, nil)

		g, gctx := errgroup.WithContext(ctx)
		svc.start(gctx, g)
		g.Go(func() error {
			defer cancel()
			return srv.Serve(gctx, os.Stdin, os.Stdout)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
