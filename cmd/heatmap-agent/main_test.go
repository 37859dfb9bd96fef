package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/funnel"
	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

const funnelYAML = `
funnels:
  - name: Docs
    description: Reading the docs
    steps:
      - step_name: Index
        page_url: http://shop.test/docs
      - step_name: Article
        page_url: http://shop.test/docs/*
  - id: fixed-id
    name: Checkout
    steps:
      - step_name: Cart
        page_url: http://shop.test/cart
`

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.New(db)
}

func TestParseFunnels(t *testing.T) {
	funnels, err := parseFunnels([]byte(funnelYAML))
	require.NoError(t, err)
	require.Len(t, funnels, 2)
	assert.Equal(t, "Docs", funnels[0].Name)
	assert.Equal(t, "http://shop.test/docs/*", funnels[0].Steps[1].PageURL)
	assert.Equal(t, "fixed-id", funnels[1].ID)

	empty, err := parseFunnels(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseFunnelsRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":  "funnels:\n  - name: A\n    colour: red\n",
		"missing name":   "funnels:\n  - steps: [{page_url: /a}]\n",
		"no steps":       "funnels:\n  - name: A\n",
		"missing url":    "funnels:\n  - name: A\n    steps: [{step_name: x}]\n",
		"not a document": "funnels: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseFunnels([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestImportFunnels(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager := funnel.NewManager(store)
	path := filepath.Join(t.TempDir(), "funnels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(funnelYAML), 0o600))

	n, err := importFunnels(ctx, manager, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Importing again appends another Docs but replaces Checkout by id.
	_, err = importFunnels(ctx, manager, path)
	require.NoError(t, err)
	funnels, err := manager.AllFunnels(ctx)
	require.NoError(t, err)
	assert.Len(t, funnels, 3)

	checkout, err := manager.GetFunnelByID(ctx, "fixed-id")
	require.NoError(t, err)
	require.Len(t, checkout.Steps, 1)
	assert.NotEmpty(t, checkout.Steps[0].ID)
}

func TestCollectAndPrintStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	data := storage.CreateInitialData("anon", "session-1", 1280, 720)
	data.PendingEvents.Clicks = append(data.PendingEvents.Clicks, models.ClickEvent{X: 1, Y: 1}, models.ClickEvent{X: 2, Y: 2})
	require.NoError(t, store.Save(ctx, data))

	manager := funnel.NewManager(store)
	f := manager.CreateFunnel("Signup", "", []models.FunnelStep{
		{StepName: "Landing", PageURL: "/"},
		{StepName: "Form", PageURL: "/signup"},
	})
	require.NoError(t, manager.SaveFunnel(ctx, f))
	log := funnel.NewEventLog(store)
	require.NoError(t, log.Append(ctx,
		models.FunnelEvent{FunnelID: f.ID, FunnelStepID: f.Steps[0].ID, UserID: "u1", Completed: true, Timestamp: "2024-01-01T00:00:00.000Z"},
		models.FunnelEvent{FunnelID: f.ID, FunnelStepID: f.Steps[0].ID, UserID: "u2", Completed: true, Timestamp: "2024-01-01T00:00:01.000Z"},
		models.FunnelEvent{FunnelID: f.ID, FunnelStepID: f.Steps[1].ID, UserID: "u1", Completed: true, Timestamp: "2024-01-01T00:00:02.000Z"},
		models.FunnelEvent{FunnelID: f.ID, FunnelStepID: f.Steps[1].ID, UserID: "u2", DroppedOff: true, Timestamp: "2024-01-01T00:00:03.000Z"},
	))

	report, err := collectStats(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "session-1", report.SessionID)
	assert.Equal(t, 2, report.Counts.Clicks)
	require.Len(t, report.Funnels, 1)
	assert.Equal(t, 50.0, report.Funnels[0].OverallConversionRate)

	var out bytes.Buffer
	printStats(&out, report)
	assert.Contains(t, out.String(), "FUNNEL SIGNUP")
	assert.Contains(t, out.String(), "Conversion: 50.00%")
	assert.Contains(t, out.String(), "Form")
	assert.Contains(t, out.String(), "<- bottleneck")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClearCommandNeedsConfirmation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  path: "+filepath.Join(dir, "events.db")+"\n"), 0o600))

	out, err := runCLI(t, "--config", cfgPath, "clear")
	require.ErrorContains(t, err, "--yes")
	assert.Contains(t, out, "Would clear 0 clicks")

	out, err = runCLI(t, "--config", cfgPath, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 0 clicks")
}

func TestFunnelsImportCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  path: "+filepath.Join(dir, "events.db")+"\n"), 0o600))
	funnelsPath := filepath.Join(dir, "funnels.yaml")
	require.NoError(t, os.WriteFile(funnelsPath, []byte(funnelYAML), 0o600))

	out, err := runCLI(t, "--config", cfgPath, "funnels", "import", funnelsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 funnels")

	out, err = runCLI(t, "--config", cfgPath, "funnels", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "fixed-id")
	assert.Contains(t, out, "Docs")
}

func TestFunnelsSyncNeedsAPI(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  path: "+filepath.Join(dir, "events.db")+"\n"), 0o600))

	_, err := runCLI(t, "--config", cfgPath, "funnels", "sync")
	assert.ErrorContains(t, err, "api.base_url")
}
