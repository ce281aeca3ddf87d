package types

import (
	"encoding/json"
	"time"
)

// MaxGroupNameLen is the longest group name accepted, in characters.
const MaxGroupNameLen = 30

// Palette holds the colors a new group can be assigned.
var Palette = []string{
	"#6366f1", "#8b5cf6", "#ec4899", "#ef4444",
	"#f59e0b", "#10b981", "#06b6d4", "#3b82f6",
}

// TabRef describes a browser tab saved into a group. ID is only meaningful
// inside the browser session that produced it; URL is the identity.
type TabRef struct {
	ID      int
	Title   string
	URL     string
	Favicon string
	AddedAt time.Time
}

type wireTab struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favIconUrl,omitempty"`
	Added   int64  `json:"added"`
}

func (t TabRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTab{
		ID:      t.ID,
		Title:   t.Title,
		URL:     t.URL,
		Favicon: t.Favicon,
		Added:   toMillis(t.AddedAt),
	})
}

func (t *TabRef) UnmarshalJSON(data []byte) error {
	var w wireTab
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = TabRef{
		ID:      w.ID,
		Title:   w.Title,
		URL:     w.URL,
		Favicon: w.Favicon,
		AddedAt: fromMillis(w.Added),
	}
	return nil
}

// Group is a named, ordered list of tabs with no two tabs sharing a URL.
type Group struct {
	Name      string
	Tabs      []TabRef
	CreatedAt time.Time
	Color     string
}

type wireGroup struct {
	Name    string   `json:"name"`
	Tabs    []TabRef `json:"tabs"`
	Created int64    `json:"created"`
	Color   string   `json:"color"`
}

func (g Group) MarshalJSON() ([]byte, error) {
	tabs := g.Tabs
	if tabs == nil {
		tabs = []TabRef{}
	}
	return json.Marshal(wireGroup{
		Name:    g.Name,
		Tabs:    tabs,
		Created: toMillis(g.CreatedAt),
		Color:   g.Color,
	})
}

func (g *Group) UnmarshalJSON(data []byte) error {
	var w wireGroup
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*g = Group{
		Name:      w.Name,
		Tabs:      w.Tabs,
		CreatedAt: fromMillis(w.Created),
		Color:     w.Color,
	}
	if g.Tabs == nil {
		g.Tabs = []TabRef{}
	}
	return nil
}

// HasURL reports whether a tab with the given URL is already in the group.
func (g *Group) HasURL(url string) bool {
	for _, t := range g.Tabs {
		if t.URL == url {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	c := *g
	c.Tabs = make([]TabRef, len(g.Tabs))
	copy(c.Tabs, g.Tabs)
	return &c
}

// Severity classifies a user-facing notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeveritySuccess, SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Millis truncates t to the millisecond precision used on the wire.
func Millis(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
