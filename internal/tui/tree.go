package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgrouper/internal/types"
)

// TreeNode is a visible row: a group header, or one of its tabs when Tab
// is non-negative.
type TreeNode struct {
	Group *types.Group
	Tab   int
}

// IsTab reports whether the node is a tab row.
func (n TreeNode) IsTab() bool { return n.Tab >= 0 }

// TabRef returns the tab of a tab row.
func (n TreeNode) TabRef() types.TabRef { return n.Group.Tabs[n.Tab] }

// TreeModel is the collapsible list of groups and their tabs.
type TreeModel struct {
	Groups   []*types.Group
	Expanded map[string]bool // group name -> expanded
	Cursor   int
	Offset   int // scroll offset
	Width    int
	Height   int
}

func NewTreeModel(groups []*types.Group) TreeModel {
	return TreeModel{Groups: groups, Expanded: make(map[string]bool)}
}

// SetGroups replaces the groups, keeping the cursor on the same group or
// tab where it still exists.
func (m *TreeModel) SetGroups(groups []*types.Group) {
	prev, hadPrev := m.SelectedNode()
	m.Groups = groups
	nodes := m.VisibleNodes()
	if hadPrev {
		for i, n := range nodes {
			if n.Group.Name == prev.Group.Name && n.Tab == prev.Tab {
				m.Cursor = i
				return
			}
		}
		for i, n := range nodes {
			if n.Group.Name == prev.Group.Name && !n.IsTab() {
				m.Cursor = i
				return
			}
		}
	}
	m.clamp(len(nodes))
}

// VisibleNodes returns the flat list of currently visible rows.
func (m TreeModel) VisibleNodes() []TreeNode {
	var nodes []TreeNode
	for _, g := range m.Groups {
		nodes = append(nodes, TreeNode{Group: g, Tab: -1})
		if m.Expanded[g.Name] {
			for i := range g.Tabs {
				nodes = append(nodes, TreeNode{Group: g, Tab: i})
			}
		}
	}
	return nodes
}

// SelectedNode returns the row under the cursor.
func (m TreeModel) SelectedNode() (TreeNode, bool) {
	nodes := m.VisibleNodes()
	if m.Cursor < 0 || m.Cursor >= len(nodes) {
		return TreeNode{}, false
	}
	return nodes[m.Cursor], true
}

// SelectedGroup returns the group under the cursor, or the group of the
// tab under the cursor.
func (m TreeModel) SelectedGroup() *types.Group {
	n, ok := m.SelectedNode()
	if !ok {
		return nil
	}
	return n.Group
}

func (m *TreeModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	m.scroll()
}

func (m *TreeModel) MoveDown() {
	if m.Cursor < len(m.VisibleNodes())-1 {
		m.Cursor++
	}
	m.scroll()
}

// Toggle expands or collapses the group under the cursor.
func (m *TreeModel) Toggle() {
	n, ok := m.SelectedNode()
	if !ok {
		return
	}
	name := n.Group.Name
	m.Expanded[name] = !m.Expanded[name]
	if n.IsTab() {
		// Collapsing from a tab row moves the cursor to its group.
		for i, v := range m.VisibleNodes() {
			if v.Group.Name == name && !v.IsTab() {
				m.Cursor = i
				break
			}
		}
	}
	m.scroll()
}

func (m *TreeModel) clamp(n int) {
	if m.Cursor >= n {
		m.Cursor = n - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	m.scroll()
}

func (m *TreeModel) scroll() {
	if m.Height <= 0 {
		return
	}
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+m.Height {
		m.Offset = m.Cursor - m.Height + 1
	}
}

func (m TreeModel) View() string {
	if len(m.Groups) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(1, 2).
			Render("No groups yet. Press n to create one.")
	}

	selectedStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	tabStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	urlStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	nodes := m.VisibleNodes()
	end := len(nodes)
	if m.Height > 0 && m.Offset+m.Height < end {
		end = m.Offset + m.Height
	}

	var b strings.Builder
	for i := m.Offset; i < end; i++ {
		n := nodes[i]
		var line string
		if n.IsTab() {
			t := n.TabRef()
			title := t.Title
			if title == "" {
				title = t.URL
			}
			line = "    " + tabStyle.Render(truncate(title, m.Width-8))
			if t.Title != "" {
				line += " " + urlStyle.Render(truncate(t.URL, m.Width-lipgloss.Width(line)-2))
			}
		} else {
			arrow := "▸"
			if m.Expanded[n.Group.Name] {
				arrow = "▾"
			}
			swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(n.Group.Color)).Render("●")
			line = fmt.Sprintf("%s %s 📁 %s (%d)", arrow, swatch, n.Group.Name, len(n.Group.Tabs))
		}
		if i == m.Cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
