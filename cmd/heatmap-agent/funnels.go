package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vincentbai/heatmap-agent/internal/funnel"
	"github.com/vincentbai/heatmap-agent/internal/models"
)

func newFunnelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "funnels",
		Short: "Manage funnel definitions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List funnel definitions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ag, err := openAgent(a.cfg, a.logger, nil)
				if err != nil {
					return err
				}
				defer ag.Close()
				funnels, err := ag.analytics.Funnels().AllFunnels(cmd.Context())
				if err != nil {
					return err
				}
				printFunnels(cmd.OutOrStdout(), funnels)
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <file.yaml>",
			Short: "Import funnel definitions from a YAML file",
			Long: `Import funnel definitions. A funnel with an id replaces the stored funnel
with that id; one without gets fresh ids and is appended.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ag, err := openAgent(a.cfg, a.logger, nil)
				if err != nil {
					return err
				}
				defer ag.Close()
				n, err := importFunnels(cmd.Context(), ag.analytics.Funnels(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d funnels from %s\n", n, args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Replace local funnel definitions with the collector's",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ag, err := openAgent(a.cfg, a.logger, nil)
				if err != nil {
					return err
				}
				defer ag.Close()
				if ag.webhook == nil {
					return errors.New("api.base_url and api.api_key must be set to sync funnels")
				}
				funnels, err := ag.analytics.Funnels().SyncFromSource(cmd.Context(), ag.webhook, a.cfg.API.ProjectID)
				if err != nil {
					return err
				}
				printFunnels(cmd.OutOrStdout(), funnels)
				return nil
			},
		},
	)
	return cmd
}

type funnelFile struct {
	Funnels []models.Funnel `yaml:"funnels"`
}

func parseFunnels(data []byte) ([]models.Funnel, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file funnelFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse funnels: %w", err)
	}
	for i, f := range file.Funnels {
		if f.Name == "" {
			return nil, fmt.Errorf("funnel %d: name is required", i)
		}
		if len(f.Steps) == 0 {
			return nil, fmt.Errorf("funnel %q: at least one step is required", f.Name)
		}
		for j, step := range f.Steps {
			if step.PageURL == "" {
				return nil, fmt.Errorf("funnel %q step %d: page_url is required", f.Name, j)
			}
		}
	}
	return file.Funnels, nil
}

func importFunnels(ctx context.Context, manager *funnel.Manager, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	funnels, err := parseFunnels(data)
	if err != nil {
		return 0, err
	}
	for _, f := range funnels {
		if f.ID == "" {
			f = manager.CreateFunnel(f.Name, f.Description, f.Steps)
		} else {
			for i := range f.Steps {
				f.Steps[i].StepOrder = i
				if f.Steps[i].ID == "" {
					f.Steps[i].ID = uuid.NewString()
				}
			}
		}
		if err := manager.SaveFunnel(ctx, f); err != nil {
			return 0, fmt.Errorf("save funnel %q: %w", f.Name, err)
		}
	}
	return len(funnels), nil
}

func printFunnels(w io.Writer, funnels []models.Funnel) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTEPS")
	for _, f := range funnels {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", f.ID, f.Name, len(f.Steps))
	}
	tw.Flush()
}
