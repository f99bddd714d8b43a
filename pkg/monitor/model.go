package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"disaster-manager-go/pkg/guard"
)

// keep this many pause requests on screen
const maxPauses = 5

// Conn is the part of Client the model uses.
type Conn interface {
	Call(method string, params any) error
	Next() (any, error)
}

type tickMsg time.Time

// Model is the bubbletea model of the dashboard.
type Model struct {
	conn Conn
	url  string
	now  func() time.Time

	width  int
	height int

	status   *guard.Status
	updated  time.Time
	pauses   []guard.PauseRequest
	err      error
	flashMsg string
}

// NewModel creates a dashboard bound to conn. url is only displayed.
func NewModel(conn Conn, url string) Model {
	return Model{conn: conn, url: url, now: time.Now}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.subscribeCmd(), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case StatusMsg:
		st := guard.Status(msg)
		m.status = &st
		m.updated = m.now()
		m.err = nil
		return m, m.listenCmd()
	case PauseMsg:
		m.pauses = append([]guard.PauseRequest{guard.PauseRequest(msg)}, m.pauses...)
		if len(m.pauses) > maxPauses {
			m.pauses = m.pauses[:maxPauses]
		}
		return m, m.listenCmd()
	case ErrMsg:
		m.err = msg.Err
		return m, nil
	case tickMsg:
		// redraw relative ages
		return m, tickCmd()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "r":
		m.flashMsg = "odometer reset requested"
		return m, m.callCmd("odometer.reset")
	case "c":
		m.pauses = nil
		return m, nil
	}
	return m, nil
}

func (m Model) subscribeCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.conn.Call("odometer.subscribe", nil); err != nil {
			return ErrMsg{Err: err}
		}
		return m.next()
	}
}

func (m Model) callCmd(method string) tea.Cmd {
	return func() tea.Msg {
		if err := m.conn.Call(method, nil); err != nil {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

func (m Model) listenCmd() tea.Cmd {
	return func() tea.Msg { return m.next() }
}

func (m Model) next() tea.Msg {
	msg, err := m.conn.Next()
	if err != nil {
		return ErrMsg{Err: err}
	}
	return msg
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
