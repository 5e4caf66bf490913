package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	logx "cliprelay/pkg/logx"
)

// KeyMap is the console window's key bindings.
type KeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Paste key.Binding
	Quit  key.Binding
}

var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("↓/j", "down"),
	),
	Paste: key.NewBinding(
		key.WithKeys("enter", "p"),
		key.WithHelp("enter/p", "paste clipboard"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "flush and quit"),
	),
}

// ConsoleConfig wires the console window to the relay.
type ConsoleConfig struct {
	Destinations []string
	Clipboard    Clipboard
	Producer     Paster
	// Status reports queue depth, capacity and loop state for the footer.
	Status func() (queued, capacity int, state string)
	// LastWarning feeds the footer's alert line while console logging is muted.
	LastWarning func() (logx.Entry, bool)
	// Refresh is how often the footer is redrawn. Default 1s.
	Refresh time.Duration
}

type pastedMsg struct {
	dest    int
	batches int
	pending int
	err     error
}

type refreshMsg struct{}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cursorStyle   = lipgloss.NewStyle().Reverse(true)
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerDivider = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(strings.Repeat("─", 40))
)

// ConsoleModel is the bubbletea model of the console window: one row per
// destination, a paste action and a status footer.
type ConsoleModel struct {
	cfg  ConsoleConfig
	keys KeyMap
	ctx  context.Context

	cursor  int
	pending []int
	busy    bool
	status  string
	failed  bool
	closing bool
}

func NewConsoleModel(ctx context.Context, cfg ConsoleConfig) ConsoleModel {
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Second
	}
	return ConsoleModel{
		cfg:     cfg,
		keys:    DefaultKeyMap,
		ctx:     ctx,
		pending: make([]int, len(cfg.Destinations)),
		status:  "ready",
	}
}

func (m ConsoleModel) Init() tea.Cmd { return m.tick() }

func (m ConsoleModel) tick() tea.Cmd {
	return tea.Tick(m.cfg.Refresh, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Closing reports whether the operator asked to quit.
func (m ConsoleModel) Closing() bool { return m.closing }

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case pastedMsg:
		m.busy = false
		name := m.cfg.Destinations[msg.dest]
		if msg.err != nil {
			m.failed = true
			m.status = fmt.Sprintf("%s: %v", name, msg.err)
		} else {
			m.failed = false
			m.pending[msg.dest] = msg.pending
			m.status = fmt.Sprintf("%s: %d batch(es) queued, %d line(s) pending", name, msg.batches, msg.pending)
		}
		if m.closing {
			// quit was pressed while this paste was running
			return m, tea.Quit
		}
		return m, nil

	case refreshMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m ConsoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		// Quitting mid-paste would close the producer under it and lose the
		// clipboard, so the first press waits for the paste. A second press
		// quits anyway.
		if m.busy && !m.closing {
			m.closing = true
			m.status = "finishing paste, then flushing (press again to quit now)"
			return m, nil
		}
		m.closing = true
		m.status = "flushing"
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.cfg.Destinations)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Paste):
		return m.paste(m.cursor)
	case msg.Type == tea.KeyRunes && len(msg.Runes) == 1 && msg.Runes[0] >= '1' && msg.Runes[0] <= '9':
		idx := int(msg.Runes[0] - '1')
		if idx < len(m.cfg.Destinations) {
			m.cursor = idx
			return m.paste(idx)
		}
	}
	return m, nil
}

// paste reads the clipboard and feeds it to dest off the UI goroutine.
// One paste runs at a time so batches keep the operator's order.
func (m ConsoleModel) paste(dest int) (tea.Model, tea.Cmd) {
	if m.busy {
		m.status = "previous paste still queued; try again"
		return m, nil
	}
	m.busy = true
	m.status = "pasting into " + m.cfg.Destinations[dest]
	clip, prod, ctx := m.cfg.Clipboard, m.cfg.Producer, m.ctx
	return m, func() tea.Msg {
		text, err := clip.ReadText()
		if err != nil {
			return pastedMsg{dest: dest, err: err}
		}
		res, err := prod.Paste(ctx, dest, text)
		return pastedMsg{dest: dest, batches: res.Batches, pending: res.Pending, err: err}
	}
}

func (m ConsoleModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("cliprelay"))
	b.WriteString("\n\n")
	for i, name := range m.cfg.Destinations {
		row := fmt.Sprintf(" %d  %-20s", i+1, name)
		if i == m.cursor {
			row = cursorStyle.Render(row)
		}
		b.WriteString(row)
		if n := m.pending[i]; n > 0 {
			b.WriteString(pendingStyle.Render(fmt.Sprintf("  %d pending", n)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	b.WriteString("\n")
	b.WriteString(footerDivider)
	b.WriteString("\n")

	status := okStyle.Render(m.status)
	if m.failed {
		status = errStyle.Render(m.status)
	}
	b.WriteString(status)
	if m.cfg.Status != nil {
		queued, capacity, state := m.cfg.Status()
		b.WriteString(helpStyle.Render(fmt.Sprintf("  [queue %d/%d, %s]", queued, capacity, state)))
	}
	b.WriteString("\n")
	if m.cfg.LastWarning != nil {
		if e, ok := m.cfg.LastWarning(); ok {
			b.WriteString(errStyle.Render(fmt.Sprintf("%s %s", e.At.Format("15:04:05"), e)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m ConsoleModel) help() string {
	parts := make([]string, 0, 5)
	for _, k := range []key.Binding{m.keys.Up, m.keys.Down, m.keys.Paste} {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	parts = append(parts, "1-9 paste into row")
	h := m.keys.Quit.Help()
	parts = append(parts, h.Key+" "+h.Desc)
	return strings.Join(parts, " · ")
}

// RunConsole shows the console window until the operator quits or ctx ends.
func RunConsole(ctx context.Context, cfg ConsoleConfig, log logx.Logger) error {
	if len(cfg.Destinations) == 0 {
		return errors.New("console: no destinations")
	}
	if cfg.Clipboard == nil || cfg.Producer == nil {
		return errors.New("console: clipboard and producer are required")
	}
	p := tea.NewProgram(NewConsoleModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console: %w", err)
	}
	if m, ok := final.(ConsoleModel); ok && m.Closing() {
		log.Info("console closed by operator")
	} else {
		log.Info("console closed", logx.Bool("ctx_done", ctx.Err() != nil))
	}
	return nil
}
