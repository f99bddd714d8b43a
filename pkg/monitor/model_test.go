package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/guard"
)

type fakeConn struct {
	mu    sync.Mutex
	calls []string
	queue []any
	err   error
}

func (c *fakeConn) Call(method string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	return c.err
}

func (c *fakeConn) Next() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, errors.New("connection closed")
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return msg, nil
}

var clock = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestModel(conn Conn) Model {
	m := NewModel(conn, "ws://printer:7130/websocket")
	m.now = func() time.Time { return clock }
	return m
}

func sampleStatus() guard.Status {
	last := clock.Add(-2 * time.Second)
	settings := config.DefaultSettings()
	settings.ToolCount = 2
	settings.PauseOnJam = true
	return guard.Status{
		State:      "PRINTING",
		Tracking:   true,
		ActiveTool: 1,
		Mode:       "absolute",
		Movement:   "stuck",
		Jammed:     true,
		JobID:      "job-1",
		Settings:   settings,
		Tools: []guard.ToolStatus{
			{ToolFigures: guard.ToolFigures{Tool: 0, GCode: 120.5, Sensor: 119}},
			{ToolFigures: guard.ToolFigures{Tool: 1, GCode: 40, Sensor: 25, Drift: 15}, LastSample: &last},
		},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelKeys(t *testing.T) {
	type testCase struct {
		description string
		key         tea.KeyMsg
		wantQuit    bool
		wantCall    string
	}
	cases := []testCase{
		{description: "q quits", key: key("q"), wantQuit: true},
		{description: "ctrl+c quits", key: tea.KeyMsg{Type: tea.KeyCtrlC}, wantQuit: true},
		{description: "r resets the odometer", key: key("r"), wantCall: "odometer.reset"},
		{description: "unbound key does nothing", key: key("x")},
	}
	for _, testCase := range cases {
		t.Run(testCase.description, func(t *testing.T) {
			conn := &fakeConn{}
			m := newTestModel(conn)
			_, cmd := m.Update(testCase.key)
			if !testCase.wantQuit && testCase.wantCall == "" {
				assert.Nil(t, cmd, testCase.description)
				return
			}
			require.NotNil(t, cmd, testCase.description)
			msg := cmd()
			if testCase.wantQuit {
				assert.IsType(t, tea.QuitMsg{}, msg, testCase.description)
				return
			}
			assert.Nil(t, msg, testCase.description)
			assert.Equal(t, []string{testCase.wantCall}, conn.calls, testCase.description)
		})
	}
}

func TestModelSubscribes(t *testing.T) {
	conn := &fakeConn{queue: []any{StatusMsg(sampleStatus())}}
	m := newTestModel(conn)

	msg := m.subscribeCmd()()
	assert.Equal(t, []string{"odometer.subscribe"}, conn.calls)
	require.IsType(t, StatusMsg{}, msg)

	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	got := next.(Model)
	require.NotNil(t, got.status)
	assert.Equal(t, "PRINTING", got.status.State)
	assert.Equal(t, clock, got.updated)

	// queue drained, the listener reports the closed connection
	msg = cmd()
	require.IsType(t, ErrMsg{}, msg)
	next, cmd = got.Update(msg)
	assert.Nil(t, cmd)
	assert.EqualError(t, next.(Model).err, "connection closed")
}

func TestModelSubscribeFailure(t *testing.T) {
	conn := &fakeConn{err: errors.New("broken pipe")}
	m := newTestModel(conn)
	msg := m.subscribeCmd()()
	assert.Equal(t, ErrMsg{Err: conn.err}, msg)
}

func TestModelKeepsRecentPauses(t *testing.T) {
	m := newTestModel(&fakeConn{})
	var model tea.Model = m
	for i := 0; i < maxPauses+3; i++ {
		model, _ = model.Update(PauseMsg(guard.PauseRequest{EpisodeID: "ep", Tool: i, Time: clock}))
	}
	got := model.(Model)
	require.Len(t, got.pauses, maxPauses)
	assert.Equal(t, maxPauses+2, got.pauses[0].Tool, "newest first")

	model, _ = got.Update(key("c"))
	assert.Empty(t, model.(Model).pauses)
}

func TestModelWindowSize(t *testing.T) {
	m := newTestModel(&fakeConn{})
	next, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Nil(t, cmd)
	assert.Equal(t, 120, next.(Model).width)
	assert.Equal(t, 40, next.(Model).height)
}

func TestViewWaiting(t *testing.T) {
	m := newTestModel(&fakeConn{})
	out := m.View()
	assert.Contains(t, out, "waiting for status")
	assert.Contains(t, out, "ws://printer:7130/websocket")

	m.err = errors.New("dial tcp: refused")
	assert.Contains(t, m.View(), "dial tcp: refused")
}

func TestViewStatus(t *testing.T) {
	m := newTestModel(&fakeConn{})
	st := sampleStatus()
	m.status = &st
	m.updated = clock
	m.pauses = []guard.PauseRequest{{EpisodeID: "0123456789abcdef", Tool: 1, Drift: 15, Time: clock.Add(-time.Minute)}}

	out := m.View()
	for _, want := range []string{
		"PRINTING",
		"T0",
		"*T1",
		"120.5 mm",
		"15 mm",
		"jam latched",
		"never",
		"2 seconds ago",
		"job job-1",
		"01234567",
		"1 minute ago",
		"q quit",
	} {
		assert.Contains(t, out, want)
	}
}

func TestDecode(t *testing.T) {
	type testCase struct {
		description string
		data        string
		want        any
		ignored     bool
	}
	cases := []testCase{
		{
			description: "status notification",
			data:        `{"jsonrpc":"2.0","method":"notify_status_update","params":[{"state":"PAUSED","active_tool":1},12.5]}`,
			want:        StatusMsg(guard.Status{State: "PAUSED", ActiveTool: 1}),
		},
		{
			description: "pause notification",
			data:        `{"jsonrpc":"2.0","method":"notify_pause_request","params":[{"episode_id":"ep-1","tool":0,"drift":11}]}`,
			want:        PauseMsg(guard.PauseRequest{EpisodeID: "ep-1", Drift: 11}),
		},
		{
			description: "subscribe result carries status",
			data:        `{"jsonrpc":"2.0","id":1,"result":{"state":"OPERATIONAL"}}`,
			want:        StatusMsg(guard.Status{State: "OPERATIONAL"}),
		},
		{
			description: "plain ok result is ignored",
			data:        `{"jsonrpc":"2.0","id":2,"result":"ok"}`,
			ignored:     true,
		},
		{
			description: "unrelated notification is ignored",
			data:        `{"jsonrpc":"2.0","method":"notify_gcode_response","params":["ok"]}`,
			ignored:     true,
		},
		{
			description: "rpc error",
			data:        `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`,
			want:        ErrMsg{Err: errors.New("server: method not found")},
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.description, func(t *testing.T) {
			got, ok, err := decode([]byte(testCase.data))
			require.NoError(t, err, testCase.description)
			if testCase.ignored {
				assert.False(t, ok, testCase.description)
				return
			}
			require.True(t, ok, testCase.description)
			if want, isErr := testCase.want.(ErrMsg); isErr {
				assert.EqualError(t, got.(ErrMsg).Err, want.Err.Error(), testCase.description)
				return
			}
			assert.Equal(t, testCase.want, got, testCase.description)
		})
	}

	_, _, err := decode([]byte("{"))
	assert.Error(t, err)
}
