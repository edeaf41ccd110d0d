package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/harvest"
)

type fakeApp struct {
	requests []harvest.Request
	summary  harvest.Summary
	err      error
	served   bool
	closed   bool
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Harvest(_ context.Context, req harvest.Request) (harvest.Summary, error) {
	f.requests = append(f.requests, req)
	return f.summary, f.err
}

func (f *fakeApp) Close() error {
	f.closed = true
	return nil
}

// These tests swap the package-level factory and therefore do not run in parallel.
func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	content := "storage:\n  backend: memory\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHarvestCommand_PrintsSummary(t *testing.T) {
	app := &fakeApp{summary: harvest.Summary{
		Status:     harvest.StatusSuccess,
		URL:        "https://reviews.example.com/review/acme.com",
		Entity:     "acme.com",
		FilesSaved: 3,
	}}
	withFakeApp(t, app)

	out, err := run(t, "--config", writeConfig(t), "harvest",
		"https://reviews.example.com/review/acme.com", "--pages", "2", "--workers", "4")
	require.NoError(t, err)

	require.Equal(t, []harvest.Request{{
		URL:       "https://reviews.example.com/review/acme.com",
		PageLimit: 2,
		Workers:   4,
	}}, app.requests)
	require.True(t, app.closed)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "success", got["status"])
	require.Equal(t, "acme.com", got["entity"])
}

func TestHarvestCommand_ErrorStatusFails(t *testing.T) {
	withFakeApp(t, &fakeApp{summary: harvest.Summary{Status: harvest.StatusFailed}})

	_, err := run(t, "--config", writeConfig(t), "harvest", "https://reviews.example.com/review/x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status error")
}

func TestHarvestCommand_CanceledStillPrints(t *testing.T) {
	withFakeApp(t, &fakeApp{
		summary: harvest.Summary{Status: harvest.StatusPartialSuccess},
		err:     context.Canceled,
	})

	out, err := run(t, "--config", writeConfig(t), "harvest", "https://reviews.example.com/review/x")
	require.NoError(t, err)
	require.Contains(t, out, "partial_success")
}

func TestHarvestCommand_RequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := run(t, "--config", writeConfig(t), "harvest")
	require.Error(t, err)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := run(t, "--config", writeConfig(t), "serve")
	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)
}

func TestRootCommand_BadConfigPath(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	require.Error(t, err)
}
