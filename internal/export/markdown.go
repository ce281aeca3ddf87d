package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabgrouper/internal/types"
)

// Markdown formats the mapping as a markdown document.
func Markdown(m *types.Mapping, now time.Time) string {
	var b strings.Builder

	gs := m.Groups()
	total := 0
	for _, g := range gs {
		total += len(g.Tabs)
	}

	b.WriteString("# Tab Groups\n")
	fmt.Fprintf(&b, "> Exported %s · %d groups, %d tabs\n", now.Format("2006-01-02 15:04"), len(gs), total)

	for _, g := range gs {
		n := len(g.Tabs)
		noun := "tabs"
		if n == 1 {
			noun = "tab"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", g.Name, n, noun)
		if !g.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "_Created %s_\n\n", g.CreatedAt.Format("2006-01-02"))
		}

		if n == 0 {
			b.WriteString("_No tabs in this group_\n")
		}
		for _, tab := range g.Tabs {
			title := tab.Title
			if title == "" {
				title = tab.URL
			}
			fmt.Fprintf(&b, "- [%s](%s) (added %s)\n", title, tab.URL, relativeTime(now, tab.AddedAt))
		}
	}

	return b.String()
}

func relativeTime(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
