package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// ChatOptions selects the server, credentials and room of a chat session.
type ChatOptions struct {
	Server   string
	Token    string
	Username string
	Target   Target
}

// RunChatTUI connects to the chat websocket and runs the interactive room
// view until the user quits or the connection drops.
func RunChatTUI(ctx context.Context, opts ChatOptions) error {
	client, err := Dial(ctx, opts.Server, opts.Token)
	if err != nil {
		return err
	}
	defer client.Close()

	model := NewChatModel(ctx, client, opts.Target, opts.Username)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	if m, ok := finalModel.(ChatModel); ok && m.err != nil && ctx.Err() == nil {
		fmt.Printf("❌ Disconnected: %v\n", m.err)
	}
	return nil
}
