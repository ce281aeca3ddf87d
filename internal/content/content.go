// Package content is the in-page surface: it asks the user for a group name
// and shows short-lived notifications, rendered in the terminal.
package content

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/types"
)

// ToastDuration is how long a notification stays up.
const ToastDuration = 3 * time.Second

// cancelInput cancels the prompt when entered on its own.
const cancelInput = "\x1b"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff"))
	iconStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6366f1"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5e7eb"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)

	toastColors = map[types.Severity]lipgloss.Color{
		types.SeveritySuccess: "#22c55e",
		types.SeverityError:   "#ef4444",
		types.SeverityWarning: "#f59e0b",
		types.SeverityInfo:    "#6366f1",
	}
)

// Toast is a notification currently on screen.
type Toast struct {
	Text     string
	Severity types.Severity
	Expires  time.Time
}

// Surface answers promptGroupName and showNotification.
type Surface struct {
	in  io.Reader
	out io.Writer
	now func() time.Time

	readOnce sync.Once
	lines    chan string

	promptMu sync.Mutex

	mu     sync.Mutex
	toasts []Toast
}

// New returns a Surface reading answers from in and drawing to out.
func New(in io.Reader, out io.Writer) *Surface {
	return &Surface{in: in, out: out, now: time.Now, lines: make(chan string)}
}

// Handle implements command.Handler.
func (s *Surface) Handle(ctx context.Context, req command.Request) command.Response {
	switch r := req.(type) {
	case command.PromptGroupName:
		name, ok := s.Prompt(ctx)
		if !ok {
			return command.GroupNameResult{Cancelled: true}
		}
		return command.GroupNameResult{GroupName: name}
	case command.ShowNotification:
		s.Show(r.Text, r.Type)
		return command.OK
	}
	return command.ErrorResult{Message: command.UnknownAction}
}

// readLines feeds input lines to s.lines until the reader is exhausted.
func (s *Surface) readLines() {
	sc := bufio.NewScanner(s.in)
	for sc.Scan() {
		s.lines <- sc.Text()
	}
	close(s.lines)
}

// Prompt shows the group-name modal and waits for an answer. An empty
// answer asks again. ok is false on cancel, end of input or ctx done.
func (s *Surface) Prompt(ctx context.Context) (name string, ok bool) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	s.readOnce.Do(func() { go s.readLines() })

	fmt.Fprintln(s.out, modalStyle.Render(
		iconStyle.Render("▤")+" "+titleStyle.Render("Create New Group")+"\n\n"+
			labelStyle.Render("Group Name:")+"\n"+
			labelStyle.Faint(true).Render("Enter to confirm, Esc then Enter to cancel"),
	))

	for {
		fmt.Fprint(s.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			applog.Debug("content.prompt_abandoned", "err", ctx.Err().Error())
			return "", false
		case l, open := <-s.lines:
			if !open {
				fmt.Fprintln(s.out)
				return "", false
			}
			line = l
		}

		if strings.TrimSpace(line) == cancelInput {
			return "", false
		}
		name = groups.NormalizeName(line)
		if res := groups.ValidateName(name); res != groups.Applied {
			fmt.Fprintln(s.out, errorStyle.Render(res.Reason()))
			continue
		}
		return name, true
	}
}

// Show draws a toast and keeps it active for ToastDuration. Unknown
// severities render as info.
func (s *Surface) Show(text string, sev types.Severity) {
	if !sev.Valid() {
		sev = types.SeverityInfo
	}
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ffffff")).
		Background(toastColors[sev]).
		Bold(true).
		Padding(0, 2)
	fmt.Fprintln(s.out, style.Render(text))

	s.mu.Lock()
	s.toasts = append(s.toasts, Toast{Text: text, Severity: sev, Expires: s.now().Add(ToastDuration)})
	s.mu.Unlock()
	applog.Debug("content.toast", "severity", string(sev), "text", text)
}

// Toasts returns the notifications that have not yet expired.
func (s *Surface) Toasts() []Toast {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.toasts[:0]
	for _, t := range s.toasts {
		if now.Before(t.Expires) {
			live = append(live, t)
		}
	}
	s.toasts = live
	return append([]Toast(nil), live...)
}
