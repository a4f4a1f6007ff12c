package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxChatLines = 200

// ChatOptions configures a ChatUI.
type ChatOptions struct {
	Room string
	Link string

	// OnSend receives every line typed that is not a command.
	OnSend func(text string) error
	// OnCommand receives "/name args" lines, except /quit.
	OnCommand func(name, args string) error
}

type chatLine struct {
	at   time.Time
	from string
	text string
	kind lineKind
}

type lineKind int

const (
	lineLocal lineKind = iota
	linePeer
	lineInfo
	lineError
)

type stateMsg string

// ChatUI is the interactive room view: connection state, chat history and an
// input line.
type ChatUI struct {
	program *tea.Program
	model   *chatModel
}

// NewChatUI creates the UI. Nothing is drawn until Run.
func NewChatUI(opts ChatOptions) *ChatUI {
	return &ChatUI{model: newChatModel(opts)}
}

// Run draws the UI and blocks until the user quits.
func (c *ChatUI) Run() error {
	c.program = tea.NewProgram(c.model)
	_, err := c.program.Run()
	return err
}

// Received shows a chat line from the peer.
func (c *ChatUI) Received(text string) {
	c.push(chatLine{at: time.Now(), from: "peer", text: text, kind: linePeer})
}

// Info shows a status line.
func (c *ChatUI) Info(format string, args ...any) {
	c.push(chatLine{at: time.Now(), text: fmt.Sprintf(format, args...), kind: lineInfo})
}

// SetState updates the connection state shown in the header.
func (c *ChatUI) SetState(state string) {
	select {
	case c.model.updates <- stateMsg(state):
	default:
	}
}

// Quit stops Run.
func (c *ChatUI) Quit() {
	if c.program != nil {
		c.program.Quit()
	}
}

func (c *ChatUI) push(line chatLine) {
	select {
	case c.model.updates <- line:
	default:
	}
}

type chatModel struct {
	opts    ChatOptions
	state   string
	lines   []chatLine
	input   textinput.Model
	spinner spinner.Model
	height  int
	updates chan tea.Msg
}

func newChatModel(opts ChatOptions) *chatModel {
	in := textinput.New()
	in.Placeholder = "Say something, or /help"
	in.CharLimit = 4096
	in.Width = 60
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &chatModel{
		opts:    opts,
		state:   "new",
		input:   in,
		spinner: s,
		height:  24,
		updates: make(chan tea.Msg, 64),
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen())
}

func (m *chatModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if quit := m.submit(strings.TrimSpace(m.input.Value())); quit {
				return m, tea.Quit
			}
			m.input.SetValue("")
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = max(20, msg.Width-4)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case chatLine:
		m.append(msg)
		return m, m.listen()

	case stateMsg:
		m.state = string(msg)
		return m, m.listen()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles one entered line and reports whether to quit.
func (m *chatModel) submit(line string) bool {
	if line == "" {
		return false
	}

	if strings.HasPrefix(line, "/") {
		name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
		switch name {
		case "quit", "q":
			return true
		case "help":
			m.append(chatLine{at: time.Now(), kind: lineInfo, text: "/crop x,y,w,h  /point click x,y  /restart  /quit"})
			return false
		}
		if m.opts.OnCommand == nil {
			m.append(chatLine{at: time.Now(), kind: lineError, text: "unknown command /" + name})
			return false
		}
		if err := m.opts.OnCommand(name, strings.TrimSpace(args)); err != nil {
			m.append(chatLine{at: time.Now(), kind: lineError, text: err.Error()})
		}
		return false
	}

	if m.opts.OnSend != nil {
		if err := m.opts.OnSend(line); err != nil {
			m.append(chatLine{at: time.Now(), kind: lineError, text: "not sent: " + err.Error()})
			return false
		}
	}
	m.append(chatLine{at: time.Now(), from: "you", text: line, kind: lineLocal})
	return false
}

func (m *chatModel) append(line chatLine) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxChatLines {
		m.lines = m.lines[len(m.lines)-maxChatLines:]
	}
}

func (m *chatModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s Screenlink  %s %s", IconScreen, IconRoom, m.opts.Room)
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	state := StateStyle(m.state).Render(m.state)
	if m.state == "new" || m.state == "connecting" {
		state = m.spinner.View() + " " + state
	}
	b.WriteString(fmt.Sprintf("%s %s", IconPeer, state))
	if m.opts.Link != "" {
		b.WriteString("  " + MutedStyle.Render(IconLink+" "+m.opts.Link))
	}
	b.WriteString("\n\n")

	visible := m.lines
	if room := m.height - 7; room > 0 && len(visible) > room {
		visible = visible[len(visible)-room:]
	}
	for _, line := range visible {
		b.WriteString(renderLine(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString(FooterStyle.Render("enter to send · /help · esc to quit"))
	return b.String()
}

func renderLine(line chatLine) string {
	stamp := MutedStyle.Render(line.at.Format("15:04"))
	switch line.kind {
	case lineLocal:
		return fmt.Sprintf("%s %s %s", stamp, LocalNameStyle.Render(line.from+":"), line.text)
	case linePeer:
		return fmt.Sprintf("%s %s %s", stamp, PeerNameStyle.Render(line.from+":"), line.text)
	case lineError:
		return fmt.Sprintf("%s %s", stamp, ErrorStyle.Render(line.text))
	default:
		return fmt.Sprintf("%s %s", stamp, MutedStyle.Render(line.text))
	}
}
