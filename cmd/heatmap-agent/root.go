package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vincentbai/heatmap-agent/internal/config"
)

type app struct {
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "heatmap-agent",
		Short: "Local heatmap and funnel analytics agent",
		Long: `heatmap-agent receives click, scroll and mouse-move beacons from a page
script, keeps them in a bounded local store, tracks funnel progress and
serves heatmaps and funnel statistics to the dashboard.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newStatsCmd(a),
		newClearCmd(a),
		newFunnelsCmd(a),
	)
	return root
}

func (a *app) load(logOutput io.Writer) error {
	v := config.New(a.cfgFile)
	if a.logLevel != "" {
		v.Set("log.level", a.logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(logOutput, cfg.SlogLevel())
	slog.SetDefault(a.logger)
	return nil
}

// newLogger writes text to a terminal and JSON everywhere else.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
