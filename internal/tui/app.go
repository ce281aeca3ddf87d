// Package tui is the popup surface: a terminal UI that manages groups
// directly against the store and stays in sync with other surfaces.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/storage"
	"github.com/lotas/tabgrouper/internal/types"
)

// NoticeDuration is how long a notice stays in the status line.
const NoticeDuration = 3 * time.Second

// --- Messages ---

type loadedMsg struct{ err error }

type storeChangedMsg struct {
	rec storage.Record
	ok  bool
}

type noticeMsg struct {
	text string
	sev  types.Severity
}

type noticeExpiredMsg struct{ id int }

// mode is what the keyboard currently drives.
type mode int

const (
	modeList mode = iota
	modeCreate
	modeConfirmDelete
)

// Config wires the popup. Current is the tab the popup was opened on, if
// any. Changes delivers store records written by other surfaces.
type Config struct {
	Repo    *groups.Repository
	Changes <-chan storage.Record
	Browser Browser
	Current *types.TabRef
}

// Model is the bubbletea model of the popup.
type Model struct {
	ctx context.Context
	cfg Config

	tree   TreeModel
	mode   mode
	input  textinput.Model
	target string // group awaiting delete confirmation

	notice   noticeMsg
	noticeID int

	loading bool
	width   int
	height  int
}

func NewModel(ctx context.Context, cfg Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Enter group name..."
	ti.CharLimit = types.MaxGroupNameLen
	ti.Width = types.MaxGroupNameLen + 1
	ti.Cursor.SetMode(cursor.CursorStatic)
	return Model{ctx: ctx, cfg: cfg, tree: NewTreeModel(nil), input: ti, loading: true}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitForChange())
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.cfg.Repo.Refresh(m.ctx)}
	}
}

func (m Model) waitForChange() tea.Cmd {
	if m.cfg.Changes == nil {
		return nil
	}
	ch := m.cfg.Changes
	return func() tea.Msg {
		rec, ok := <-ch
		return storeChangedMsg{rec: rec, ok: ok}
	}
}

func notify(text string, sev types.Severity) tea.Cmd {
	return func() tea.Msg { return noticeMsg{text: text, sev: sev} }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tree.Width = m.width - 4
		m.tree.Height = m.height - 8
		return m, nil

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			applog.Error("tui.load", msg.err)
			return m.refresh(), notify(groups.Failed.Reason(), types.SeverityError)
		}
		return m.refresh(), nil

	case storeChangedMsg:
		if !msg.ok {
			return m, nil
		}
		if m.cfg.Repo.Apply(msg.rec) {
			m = m.refresh()
		}
		return m, m.waitForChange()

	case noticeMsg:
		m.noticeID++
		m.notice = msg
		id := m.noticeID
		return m.refresh(), tea.Tick(NoticeDuration, func(time.Time) tea.Msg {
			return noticeExpiredMsg{id: id}
		})

	case noticeExpiredMsg:
		if msg.id == m.noticeID {
			m.notice = noticeMsg{}
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeCreate:
			return m.updateCreate(msg)
		case modeConfirmDelete:
			return m.updateConfirm(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

// refresh re-reads the repository cache into the tree.
func (m Model) refresh() Model {
	m.tree.SetGroups(m.cfg.Repo.Groups())
	return m
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		m.tree.MoveUp()
	case "down", "j":
		m.tree.MoveDown()
	case "enter", " ":
		n, ok := m.tree.SelectedNode()
		if ok && n.IsTab() {
			return m, m.openTab(n.TabRef().URL)
		}
		m.tree.Toggle()
	case "n":
		m.mode = modeCreate
		m.input.SetValue("")
		return m, m.input.Focus()
	case "a":
		if g := m.tree.SelectedGroup(); g != nil {
			return m, m.addCurrentTab(g.Name)
		}
	case "o":
		if g := m.tree.SelectedGroup(); g != nil {
			return m, m.openAll(g.Name)
		}
	case "d":
		n, ok := m.tree.SelectedNode()
		if ok && !n.IsTab() {
			m.mode = modeConfirmDelete
			m.target = n.Group.Name
		}
	case "x":
		n, ok := m.tree.SelectedNode()
		if ok && n.IsTab() {
			return m, m.removeTab(n.Group.Name, n.Tab)
		}
	}
	return m, nil
}

func (m Model) updateCreate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		name := m.input.Value()
		m.mode = modeList
		m.input.Blur()
		return m, m.createGroup(name)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	name := m.target
	m.mode = modeList
	m.target = ""
	switch msg.String() {
	case "y", "Y", "enter":
		return m, m.deleteGroup(name)
	}
	return m, nil
}

// --- Operations ---

func (m Model) createGroup(name string) tea.Cmd {
	repo, ctx := m.cfg.Repo, m.ctx
	return func() tea.Msg {
		name = groups.NormalizeName(name)
		res, err := repo.CreateGroup(ctx, name)
		if err != nil {
			applog.Error("tui.create", err, "group", name)
			return noticeMsg{groups.Failed.Reason(), types.SeverityError}
		}
		if res != groups.Applied {
			return noticeMsg{res.Reason(), types.SeverityError}
		}
		return noticeMsg{fmt.Sprintf("Group \"%s\" created successfully", name), types.SeveritySuccess}
	}
}

func (m Model) addCurrentTab(name string) tea.Cmd {
	repo, ctx, current := m.cfg.Repo, m.ctx, m.cfg.Current
	return func() tea.Msg {
		if current == nil {
			return noticeMsg{"No active tab found", types.SeverityError}
		}
		res, err := repo.AddTab(ctx, name, *current)
		switch {
		case err != nil:
			applog.Error("tui.add", err, "group", name)
			return noticeMsg{groups.Failed.Reason(), types.SeverityError}
		case res == groups.Applied:
			return noticeMsg{fmt.Sprintf("Tab added to \"%s\"", name), types.SeveritySuccess}
		case res == groups.Duplicate:
			return noticeMsg{res.Reason(), types.SeverityWarning}
		}
		return noticeMsg{res.Reason(), types.SeverityError}
	}
}

func (m Model) deleteGroup(name string) tea.Cmd {
	repo, ctx := m.cfg.Repo, m.ctx
	return func() tea.Msg {
		res, err := repo.DeleteGroup(ctx, name)
		if err != nil {
			applog.Error("tui.delete", err, "group", name)
			return noticeMsg{groups.Failed.Reason(), types.SeverityError}
		}
		if res != groups.Applied {
			return noticeMsg{res.Reason(), types.SeverityError}
		}
		return noticeMsg{fmt.Sprintf("Group \"%s\" deleted", name), types.SeveritySuccess}
	}
}

func (m Model) removeTab(name string, index int) tea.Cmd {
	repo, ctx := m.cfg.Repo, m.ctx
	return func() tea.Msg {
		res, err := repo.RemoveTab(ctx, name, index)
		if err != nil {
			applog.Error("tui.remove", err, "group", name)
			return noticeMsg{groups.Failed.Reason(), types.SeverityError}
		}
		if res != groups.Applied {
			return noticeMsg{res.Reason(), types.SeverityError}
		}
		return noticeMsg{"Tab removed from group", types.SeveritySuccess}
	}
}

func (m Model) openTab(url string) tea.Cmd {
	b, ctx := m.cfg.Browser, m.ctx
	return func() tea.Msg {
		if b == nil {
			return noticeMsg{ErrNoTabOpener.Error(), types.SeverityError}
		}
		if err := b.OpenTab(ctx, url); err != nil {
			applog.Error("tui.open_tab", err, "url", url)
			if errors.Is(err, ErrNoTabOpener) {
				return noticeMsg{err.Error(), types.SeverityError}
			}
			return noticeMsg{"Failed to open tab", types.SeverityError}
		}
		return nil
	}
}

func (m Model) openAll(name string) tea.Cmd {
	repo, b, ctx := m.cfg.Repo, m.cfg.Browser, m.ctx
	return func() tea.Msg {
		g, ok := repo.Group(name)
		if !ok {
			return noticeMsg{groups.NotFound.Reason(), types.SeverityError}
		}
		if len(g.Tabs) == 0 {
			return noticeMsg{"No tabs in this group", types.SeverityWarning}
		}
		if b == nil {
			return noticeMsg{"Failed to open tabs", types.SeverityError}
		}
		text, sev := b.OpenAll(ctx, g)
		return noticeMsg{text, sev}
	}
}

// --- View ---

var noticeColors = map[types.Severity]lipgloss.Color{
	types.SeveritySuccess: "#22c55e",
	types.SeverityError:   "#ef4444",
	types.SeverityWarning: "#f59e0b",
	types.SeverityInfo:    "#6366f1",
}

func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6366f1")).Padding(0, 1)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	header := titleStyle.Render("Tab Grouper")
	current := dimStyle.Render("No active tab")
	if t := m.cfg.Current; t != nil {
		title := t.Title
		if title == "" {
			title = t.URL
		}
		current = dimStyle.Render("Current tab: " + title)
	}

	var body string
	switch {
	case m.loading:
		body = dimStyle.Render("Loading groups...")
	case m.mode == modeCreate:
		body = boxStyle.Render(fmt.Sprintf("Create New Group\n\nGroup Name:\n%s\n\n%s",
			m.input.View(), dimStyle.Render("enter create · esc cancel")))
	case m.mode == modeConfirmDelete:
		body = boxStyle.Render(fmt.Sprintf("Are you sure you want to delete the group \"%s\"?\n\n%s",
			m.target, dimStyle.Render("y delete · any other key cancel")))
	default:
		body = m.tree.View()
	}

	parts := []string{header, current, "", body, ""}
	if m.notice.text != "" {
		style := lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(noticeColors[m.notice.sev]).
			Padding(0, 1)
		parts = append(parts, style.Render(m.notice.text))
	}
	parts = append(parts, dimStyle.Render("↑↓ navigate · enter expand/open · n new · a add tab · o open all · x remove tab · d delete · q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Run starts the popup and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(NewModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
