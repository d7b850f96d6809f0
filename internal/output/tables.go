package output

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pagegate/pagegate/internal/core"
)

// Usage renders a usage snapshot.
func Usage(format Format, snapshot core.UsageSnapshot) (string, error) {
	return render(format, snapshot, func(t table.Writer) {
		t.AppendHeader(table.Row{"Scope", "Calls %", "Time %", "CPU %", "Top %"})
		t.AppendRow(usageRow("app", snapshot.App))
		t.AppendRow(usageRow("page", snapshot.Resource))

		observed := "never"
		if !snapshot.ObservedAt.IsZero() {
			observed = snapshot.ObservedAt.UTC().Format(time.RFC3339)
		}
		t.SetCaption("cooldown %s, observed %s", cooldownLabel(snapshot.CooldownRemaining), observed)
	})
}

func usageRow(scope string, u *core.UsageIndicator) table.Row {
	if u == nil {
		return table.Row{scope, "-", "-", "-", "-"}
	}
	return table.Row{scope, percent(u.CallCount), percent(u.TotalTime), percent(u.TotalCPUTime), percent(u.Top())}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

func cooldownLabel(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
}

// CredentialRow is one stored or resolved credential.
type CredentialRow struct {
	PageID     string `json:"page_id"`
	Credential string `json:"credential"`
	Strategy   string `json:"strategy,omitempty"`
}

// CredentialRows builds masked rows from a page-to-credential map, ordered by page.
func CredentialRows(credentials map[string]string, reveal bool) []CredentialRow {
	ids := make([]string, 0, len(credentials))
	for id := range credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]CredentialRow, 0, len(ids))
	for _, id := range ids {
		credential := credentials[id]
		if !reveal {
			credential = MaskCredential(credential)
		}
		rows = append(rows, CredentialRow{PageID: id, Credential: credential})
	}
	return rows
}

// Credentials renders credential rows.
func Credentials(format Format, rows []CredentialRow) (string, error) {
	return render(format, rows, func(t table.Writer) {
		t.AppendHeader(table.Row{"Page", "Credential", "Strategy"})
		for _, row := range rows {
			t.AppendRow(table.Row{row.PageID, row.Credential, row.Strategy})
		}
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d total", len(rows)), ""})
	})
}

// pageRow omits the access token.
type pageRow struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Pages renders managed pages without their credentials.
func Pages(format Format, pages []core.Page) (string, error) {
	rows := make([]pageRow, 0, len(pages))
	for _, page := range pages {
		rows = append(rows, pageRow{ID: page.ID, Name: page.Name})
	}
	return render(format, rows, func(t table.Writer) {
		t.AppendHeader(table.Row{"ID", "Name"})
		for _, row := range rows {
			t.AppendRow(table.Row{row.ID, row.Name})
		}
	})
}
