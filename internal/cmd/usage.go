package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/output"
	"github.com/pagegate/pagegate/internal/server"
	"github.com/pagegate/pagegate/internal/server/handlers"
)

var (
	usageServer string
	usagePin    string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the running gateway's cooldown and last usage telemetry",
	Long: `Query GET /api/usage on a running gateway and render the result.

The access pin defaults to auth.access_pin from the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		base := strings.TrimSpace(usageServer)
		if base == "" {
			base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		}
		pin := usagePin
		if pin == "" {
			pin = cfg.Auth.AccessPin
		}

		snapshot, err := fetchUsage(ctx, http.DefaultClient, base, pin)
		if err != nil {
			return err
		}
		return writeRendered(cmd, func(format output.Format) (string, error) {
			return output.Usage(format, snapshot)
		})
	},
}

// fetchUsage reads /api/usage from a gateway at base.
func fetchUsage(ctx context.Context, client *http.Client, base, pin string) (core.UsageSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/usage", nil)
	if err != nil {
		return core.UsageSnapshot{}, err
	}
	if pin != "" {
		req.Header.Set(server.AccessPinHeader, pin)
	}

	resp, err := client.Do(req)
	if err != nil {
		return core.UsageSnapshot{}, fmt.Errorf("query gateway: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return core.UsageSnapshot{}, fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var usage handlers.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return core.UsageSnapshot{}, fmt.Errorf("decode usage: %w", err)
	}

	snapshot := core.UsageSnapshot{CooldownRemaining: time.Duration(usage.CooldownRemaining) * time.Second}
	if last := usage.LastUsage; last != nil {
		snapshot.App = last.App
		snapshot.Resource = last.Page
		snapshot.AppRaw = last.AppRaw
		snapshot.ResourceRaw = last.PageRaw
		snapshot.ObservedAt = last.ObservedAt
	}
	return snapshot, nil
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVar(&usageServer, "server", "", "gateway base URL (default http://<server.host>:<server.port>)")
	usageCmd.Flags().StringVar(&usagePin, "pin", "", "access pin for /api")
	addOutputFlags(usageCmd)
}
