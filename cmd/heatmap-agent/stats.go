package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vincentbai/heatmap-agent/internal/funnel"
	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pending event counts and funnel statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ag, err := openAgent(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer ag.Close()

			report, err := collectStats(cmd.Context(), ag.store)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printStats(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output statistics as JSON")
	return cmd
}

type statsReport struct {
	SessionID    string               `json:"session_id,omitempty"`
	Counts       models.DataCount     `json:"counts"`
	StorageBytes int64                `json:"storage_bytes"`
	Funnels      []models.FunnelStats `json:"funnels"`
}

// collectStats reads the store without starting a session.
func collectStats(ctx context.Context, store *storage.Store) (statsReport, error) {
	var report statsReport
	data, err := store.Load(ctx)
	if err != nil {
		return report, err
	}
	if data != nil {
		report.SessionID = data.SessionID
		report.Counts = data.PendingEvents.Count()
	}
	if report.StorageBytes, err = store.Size(ctx); err != nil {
		return report, err
	}

	analyzer := funnel.NewAnalyzer(funnel.NewManager(store), funnel.NewEventLog(store))
	if report.Funnels, err = analyzer.CalculateAllFunnelStats(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func printStats(w io.Writer, r statsReport) {
	header := color.New(color.Bold)
	warn := color.New(color.FgRed, color.Bold)

	fmt.Fprintln(w)
	header.Fprintln(w, "PENDING EVENTS")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	if r.SessionID != "" {
		fmt.Fprintf(w, "Session:      %s\n", r.SessionID)
	}
	fmt.Fprintf(w, "Clicks:       %s\n", humanize.Comma(int64(r.Counts.Clicks)))
	fmt.Fprintf(w, "Scrolls:      %s\n", humanize.Comma(int64(r.Counts.Scrolls)))
	fmt.Fprintf(w, "Mouse moves:  %s\n", humanize.Comma(int64(r.Counts.MouseMoves)))
	fmt.Fprintf(w, "Storage used: %s\n", humanize.IBytes(uint64(r.StorageBytes)))

	for _, fs := range r.Funnels {
		fmt.Fprintln(w)
		header.Fprintf(w, "FUNNEL %s\n", strings.ToUpper(fs.Funnel.Name))
		fmt.Fprintln(w, strings.Repeat("─", 50))
		fmt.Fprintf(w, "Conversion: %.2f%%  (%s to %s)\n", fs.OverallConversionRate, fs.DateRange.Start, fs.DateRange.End)

		bottleneck := funnel.Bottleneck(fs.Stats)
		for _, step := range fs.Stats {
			line := fmt.Sprintf("  %d. %-24s entered %-5d completed %-5d drop-off %6.2f%%",
				step.StepOrder+1, step.StepName, step.UsersEntered, step.UsersCompleted, step.DropOffRate)
			if bottleneck != nil && step.StepOrder == bottleneck.StepOrder && step.DropOffRate > 0 {
				warn.Fprintln(w, line+"  <- bottleneck")
				continue
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)
}
