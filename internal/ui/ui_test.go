package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeLine(m *chatModel, text string) tea.Cmd {
	m.input.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestChatSendsTypedLines(t *testing.T) {
	var sent []string
	m := newChatModel(ChatOptions{Room: "r1", OnSend: func(text string) error {
		sent = append(sent, text)
		return nil
	}})

	typeLine(m, "  hello  ")
	typeLine(m, "")

	assert.Equal(t, []string{"hello"}, sent)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.lines, 1)
	assert.Contains(t, m.View(), "hello")
	assert.Contains(t, m.View(), "r1")
}

func TestChatShowsSendErrors(t *testing.T) {
	m := newChatModel(ChatOptions{OnSend: func(string) error { return errors.New("channel not open") }})

	typeLine(m, "hi")
	require.Len(t, m.lines, 1)
	assert.Equal(t, lineError, m.lines[0].kind)
	assert.Contains(t, m.View(), "not sent: channel not open")
}

func TestChatRoutesCommands(t *testing.T) {
	var name, args string
	m := newChatModel(ChatOptions{OnCommand: func(n, a string) error {
		name, args = n, a
		return nil
	}})

	typeLine(m, "/crop 0,0,640,480")
	assert.Equal(t, "crop", name)
	assert.Equal(t, "0,0,640,480", args)

	cmd := typeLine(m, "/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestChatAppliesUpdates(t *testing.T) {
	m := newChatModel(ChatOptions{Room: "r1"})

	m.Update(stateMsg("connected"))
	m.Update(chatLine{at: time.Now(), from: "peer", text: "hey there", kind: linePeer})

	view := m.View()
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "hey there")
}

func TestChatKeepsBoundedHistory(t *testing.T) {
	m := newChatModel(ChatOptions{})
	for i := 0; i < maxChatLines+10; i++ {
		m.append(chatLine{text: "x"})
	}
	assert.Len(t, m.lines, maxChatLines)
}

func TestChatUIQueuesWithoutProgram(t *testing.T) {
	c := NewChatUI(ChatOptions{Room: "r1"})
	c.Received("hello")
	c.SetState("connecting")
	c.Quit()

	assert.Len(t, c.model.updates, 2)
}

func TestRoomsView(t *testing.T) {
	view := RoomsView([]string{"alpha", "beta"})
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "beta")
	assert.Contains(t, RoomsView(nil), "No public rooms")
	assert.Contains(t, RoomBox("r1", "http://localhost:8080/viewer/r1"), "viewer/r1")
}

func TestProbeView(t *testing.T) {
	view := ProbeView([]ProbeResult{
		{URL: "stun:stun.example.com:3478", Candidates: []string{"host", "srflx"}},
		{URL: "turn:turn.example.com:3478", Err: errors.New("timeout")},
		{URL: "stun:quiet.example.com"},
	})
	assert.Contains(t, view, "host, srflx")
	assert.Contains(t, view, "error: timeout")
	assert.Contains(t, view, "no candidates")
}

func TestSpinnerStopsOnce(t *testing.T) {
	var out bytes.Buffer
	s := newSpinner(&out, spinner.Line, "waiting")
	s.Start()
	s.UpdateMessage("still waiting")
	s.Success("done")
	s.Stop()

	assert.True(t, strings.HasSuffix(out.String(), "done\n"))
}
