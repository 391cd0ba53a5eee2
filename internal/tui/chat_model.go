package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const historyLimit = 50

// Conn is what the chat model needs from a server session.
type Conn interface {
	Send(ctx context.Context, frame any) error
	Next(ctx context.Context) (Frame, error)
	History(ctx context.Context, roomID uint, limit int) ([]Line, error)
}

// Target names the room to open: a direct room by the other user's id,
// a task room by task id or a group room by room id.
type Target struct {
	RoomType string
	ID       uint
}

func (t Target) String() string {
	return fmt.Sprintf("%s #%d", t.RoomType, t.ID)
}

type (
	frameMsg   Frame
	historyMsg []Line
	errMsg     struct{ err error }
)

// ChatModel is an interactive chat room session.
type ChatModel struct {
	ctx    context.Context
	conn   Conn
	target Target
	me     string

	roomID uint
	lines  []Line
	seen   map[uint]bool
	typing string

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int

	status    string
	statusErr bool
	isTyping  bool
	err       error
	quitting  bool
}

// NewChatModel creates a chat model for target acting as username me.
func NewChatModel(ctx context.Context, conn Conn, target Target, me string) ChatModel {
	in := textinput.New()
	in.Placeholder = "Type a message, Enter to send"
	in.CharLimit = 2000
	in.Width = 60
	in.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPrimaryText))
	in.PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPlaceholder))
	in.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentBright))
	in.Focus()

	return ChatModel{
		ctx:      ctx,
		conn:     conn,
		target:   target,
		me:       me,
		seen:     map[uint]bool{},
		viewport: viewport.New(80, 20),
		input:    in,
		status:   "joining " + target.String() + "...",
	}
}

// Init joins the room and starts reading frames.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.join(), m.listen())
}

func (m ChatModel) join() tea.Cmd {
	frame := map[string]any{"type": "join_room", "room_type": m.target.RoomType, "room_id": m.target.ID}
	return m.write(frame)
}

func (m ChatModel) write(frame any) tea.Cmd {
	conn, ctx := m.conn, m.ctx
	return func() tea.Msg {
		if err := conn.Send(ctx, frame); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m ChatModel) listen() tea.Cmd {
	conn, ctx := m.conn, m.ctx
	return func() tea.Msg {
		f, err := conn.Next(ctx)
		if err != nil {
			return errMsg{err}
		}
		return frameMsg(f)
	}
}

func (m ChatModel) history() tea.Cmd {
	conn, ctx, roomID := m.conn, m.ctx, m.roomID
	return func() tea.Msg {
		lines, err := conn.History(ctx, roomID, historyLimit)
		if err != nil {
			return errMsg{err}
		}
		return historyMsg(lines)
	}
}

// Update handles messages
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-4, 20)
		m.viewport.Height = max(msg.Height-8, 3)
		m.input.Width = max(msg.Width-8, 20)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.isTyping = false
			return m, m.write(map[string]any{
				"type":      "send_message",
				"room_type": m.target.RoomType,
				"room_id":   m.target.ID,
				"content":   text,
			})
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if typing := m.input.Value() != ""; typing != m.isTyping && m.roomID != 0 {
			m.isTyping = typing
			return m, tea.Batch(cmd, m.write(map[string]any{"type": "typing", "is_typing": typing}))
		}
		return m, cmd

	case frameMsg:
		cmd := m.handleFrame(Frame(msg))
		return m, tea.Batch(cmd, m.listen())

	case historyMsg:
		m.lines = m.lines[:0]
		m.seen = map[uint]bool{}
		for _, l := range msg {
			m.appendLine(l)
		}
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) handleFrame(f Frame) tea.Cmd {
	switch f.Type {
	case "room_joined":
		m.roomID = uint(f.Data.Get("room_id").Uint())
		m.setStatus(fmt.Sprintf("joined %s (room %d)", m.target, m.roomID), false)
		return m.history()
	case "room_left":
		m.roomID = 0
		m.setStatus("left "+m.target.String(), false)
	case "chat_message":
		l := LineFromMessage(f.Data)
		if m.roomID != 0 && l.RoomID != m.roomID {
			return nil
		}
		if l.From == m.typing {
			m.typing = ""
		}
		m.appendLine(l)
		m.refresh()
	case "typing":
		who := f.Data.Get("user.username").String()
		if who == m.me {
			return nil
		}
		switch {
		case f.Data.Get("is_typing").Bool():
			m.typing = who
		case m.typing == who:
			m.typing = ""
		}
	case "error":
		m.setStatus(f.Data.Get("message").String(), true)
	}
	return nil
}

func (m *ChatModel) appendLine(l Line) {
	if l.ID != 0 {
		if m.seen[l.ID] {
			return
		}
		m.seen[l.ID] = true
	}
	m.lines = append(m.lines, l)
}

func (m *ChatModel) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *ChatModel) refresh() {
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.renderLine(l))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m ChatModel) renderLine(l Line) string {
	name := otherStyle.Render(l.From)
	if l.From == m.me {
		name = selfStyle.Render(l.From)
	}
	at := "--:--"
	if !l.At.IsZero() {
		at = l.At.Local().Format("15:04")
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(at), name, textStyle.Render(l.Text))
}

// View renders the TUI
func (m ChatModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("wrokhub · " + m.target.String()))
	b.WriteString("  ")
	if m.statusErr {
		b.WriteString(errorStyle.Render("✗ " + m.status))
	} else if m.roomID != 0 {
		b.WriteString(successStyle.Render("● ") + statusStyle.Render(m.status))
	} else {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	if m.typing != "" {
		b.WriteString(typingStyle.Render(m.typing + " is typing..."))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • pgup/pgdown scroll • esc quit"))
	return b.String()
}
