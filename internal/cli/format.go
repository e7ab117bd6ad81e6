package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatDuration renders d in the largest whole unit, e.g. "3 hours".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		return plural(int(d.Minutes()), "minute")
	}
	if d < 24*time.Hour {
		return plural(int(d.Hours()), "hour")
	}
	return plural(int(d.Hours()/24), "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatExpiry formats expiresAt relative to now as "in X" or "expired X ago".
// A nil expiry is reported as unknown.
func FormatExpiry(expiresAt *time.Time, now time.Time) string {
	if expiresAt == nil || expiresAt.IsZero() {
		return text.FgYellow.Sprint("unknown")
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + FormatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", FormatDuration(-remaining))
}

// KeyValueTable renders two-column tables such as whoami and status output.
type KeyValueTable struct {
	t table.Writer
}

// NewKeyValueTable creates a table writing to out.
func NewKeyValueTable(out io.Writer, title string) *KeyValueTable {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	if title != "" {
		t.SetTitle(title)
	}
	return &KeyValueTable{t: t}
}

// Add appends a row. Empty values are skipped.
func (k *KeyValueTable) Add(key, value string) {
	if value == "" {
		return
	}
	k.t.AppendRow(table.Row{text.FgHiCyan.Sprint(key), value})
}

// Render writes the table.
func (k *KeyValueTable) Render() {
	k.t.Render()
}
