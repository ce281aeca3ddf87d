package export

import (
	"time"

	"github.com/lotas/tabgrouper/internal/types"
)

var exportNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func sampleMapping() *types.Mapping {
	m := types.NewMapping()
	m.Put(&types.Group{
		Name:      "Research",
		Color:     "#6366f1",
		CreatedAt: exportNow.Add(-10 * 24 * time.Hour),
		Tabs: []types.TabRef{
			{Title: "Go docs", URL: "https://go.dev/doc", AddedAt: exportNow.Add(-3 * 24 * time.Hour)},
			{Title: "", URL: "https://github.com/charmbracelet/bubbletea", AddedAt: exportNow.Add(-5 * time.Hour)},
		},
	})
	m.Put(&types.Group{Name: "Empty", Color: "#ef4444", CreatedAt: exportNow})
	m.Put(&types.Group{
		Name:  "Reading",
		Color: "#10b981",
		Tabs:  []types.TabRef{{Title: "Example", URL: "https://example.com", AddedAt: exportNow.Add(-30 * time.Second)}},
	})
	return m
}
