package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/lotas/tabgrouper/internal/types"
)

type jsonExport struct {
	ExportedAt time.Time   `json:"exported_at"`
	Groups     []jsonGroup `json:"groups"`
}

type jsonGroup struct {
	Name    string    `json:"name"`
	Color   string    `json:"color,omitempty"`
	Created time.Time `json:"created"`
	Tabs    []jsonTab `json:"tabs"`
}

type jsonTab struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Favicon     string    `json:"favicon,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	AddedPretty string    `json:"added_pretty"`
	AddedDays   int       `json:"added_days"`
}

// JSON formats the mapping as a JSON document, groups in mapping order.
func JSON(m *types.Mapping, now time.Time) (string, error) {
	out := jsonExport{
		ExportedAt: now,
		Groups:     make([]jsonGroup, 0, m.Len()),
	}

	for _, g := range m.Groups() {
		group := jsonGroup{
			Name:    g.Name,
			Color:   g.Color,
			Created: g.CreatedAt,
			Tabs:    make([]jsonTab, 0, len(g.Tabs)),
		}
		for _, tab := range g.Tabs {
			group.Tabs = append(group.Tabs, jsonTab{
				Title:       tab.Title,
				URL:         tab.URL,
				Domain:      extractDomain(tab.URL),
				Favicon:     tab.Favicon,
				AddedAt:     tab.AddedAt,
				AddedPretty: relativeTime(now, tab.AddedAt),
				AddedDays:   int(now.Sub(tab.AddedAt).Hours() / 24),
			})
		}
		out.Groups = append(out.Groups, group)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
