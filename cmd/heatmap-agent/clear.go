package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vincentbai/heatmap-agent/internal/analytics"
	"github.com/vincentbai/heatmap-agent/internal/models"
)

func newClearCmd(a *app) *cobra.Command {
	var yes, queue bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all pending events and funnel events",
		Long: `Reset the analytics document and truncate the funnel event log. The
anonymous id is kept. Without --yes nothing is removed and the counts that
would be cleared are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.cfg.Tracking.AutoStart = false
			ag, err := openAgent(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer ag.Close()
			if err := ag.analytics.Init(ctx); err != nil {
				return err
			}
			defer ag.analytics.Destroy(ctx)

			out := cmd.OutOrStdout()
			res, err := ag.analytics.ClearData(ctx, func(c models.DataCount) bool {
				if !yes {
					fmt.Fprintf(out, "Would clear %d clicks, %d scrolls and %d mouse moves.\n",
						c.Clicks, c.Scrolls, c.MouseMoves)
				}
				return yes
			})
			if errors.Is(err, analytics.ErrClearDeclined) {
				return errors.New("refusing to clear without --yes")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared %d clicks, %d scrolls, %d mouse moves and %d funnel events.\n",
				res.Cleared.Clicks, res.Cleared.Scrolls, res.Cleared.MouseMoves, res.FunnelEvents)

			if queue && ag.webhook != nil {
				n, err := ag.webhook.QueueSize(ctx)
				if err != nil {
					return err
				}
				if err := ag.webhook.ClearQueue(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Dropped %d queued webhook payloads.\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	cmd.Flags().BoolVar(&queue, "queue", false, "Also drop payloads waiting in the webhook queue")
	return cmd
}
