package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/voxhq/vox/internal/app"
	"github.com/voxhq/vox/internal/session"
	"golang.org/x/sync/errgroup"

	tea "github.com/charmbracelet/bubbletea"
)

func init() {
	rootCmd.AddCommand(tuiCmd)
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the terminal UI (default)",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	// The terminal belongs to the UI; logs go to the log file.
	logFile, err := openLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()
	setupLogging(logFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	scope := session.NewScope(svc.controller)

	labels := app.DefaultLabels()
	for status, label := range app.LabelsFromMap(cfg.UI.Labels) {
		labels[status] = label
	}
	model := app.New(scope, labels)
	model.SetBars(cfg.UI.Bars)

	g, gctx := errgroup.WithContext(ctx)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))

	unsubscribe, err := scope.Subscribe(func(v session.View) {
		p.Send(app.StateMsg{View: v})
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	svc.start(gctx, g)
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tui: %w", err)
		}
		return nil
	})

	return g.Wait()
}
