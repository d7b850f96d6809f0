package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/output"
	"github.com/pagegate/pagegate/internal/server"
)

type fixedSnapshot core.UsageSnapshot

func (f fixedSnapshot) CurrentUsageSnapshot() core.UsageSnapshot { return core.UsageSnapshot(f) }

func TestFetchUsageFromGateway(t *testing.T) {
	observed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	srv := server.New(server.Options{AccessPin: "1234"}, server.Dependencies{
		Usage: fixedSnapshot{
			App:               &core.UsageIndicator{CallCount: 55},
			ObservedAt:        observed,
			CooldownRemaining: 90 * time.Second,
		},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	snapshot, err := fetchUsage(context.Background(), ts.Client(), ts.URL, "1234")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, snapshot.CooldownRemaining)
	require.NotNil(t, snapshot.App)
	assert.Equal(t, 55.0, snapshot.App.CallCount)
	assert.True(t, observed.Equal(snapshot.ObservedAt))

	_, err = fetchUsage(context.Background(), ts.Client(), ts.URL, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestFetchUsageUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	_, err := fetchUsage(context.Background(), http.DefaultClient, ts.URL, "")
	require.Error(t, err)
}

func TestWriteRenderedHonoursFormat(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addOutputFlags(cmd)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	require.NoError(t, cmd.Flags().Set("output-format", "json"))

	err := writeRendered(cmd, func(format output.Format) (string, error) {
		return output.Pages(format, []core.Page{{ID: "42", Name: "Cafe", AccessToken: "tok"}})
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"id": "42"`)
	assert.NotContains(t, buf.String(), "tok")

	require.NoError(t, cmd.Flags().Set("output-format", "csv"))
	require.Error(t, writeRendered(cmd, func(output.Format) (string, error) { return "", nil }))
}
