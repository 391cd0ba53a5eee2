package tui

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"
)

// Frame is one server frame, {"type": ..., "data": ...}.
type Frame struct {
	Type string
	Data gjson.Result
}

// ParseFrame decodes a raw server frame.
func ParseFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, fmt.Errorf("invalid frame: %q", raw)
	}
	f := gjson.ParseBytes(raw)
	return Frame{Type: f.Get("type").String(), Data: f.Get("data")}, nil
}

// Line is one rendered chat message.
type Line struct {
	ID     uint
	At     time.Time
	From   string
	Text   string
	RoomID uint
}

// LineFromMessage reads a chat message view.
func LineFromMessage(v gjson.Result) Line {
	at, _ := time.Parse(time.RFC3339Nano, v.Get("timestamp").String())
	text := v.Get("content").String()
	for _, att := range v.Get("attachments").Array() {
		text += fmt.Sprintf(" [📎 %s]", att.Get("file_name").String())
	}
	return Line{
		ID:     uint(v.Get("id").Uint()),
		At:     at,
		From:   v.Get("sender.username").String(),
		Text:   strings.TrimSpace(text),
		RoomID: uint(v.Get("room_id").Uint()),
	}
}

// Client is a chat websocket plus the HTTP API for history.
type Client struct {
	base  *url.URL
	token string
	conn  *websocket.Conn
	http  *http.Client
}

// Dial opens the chat websocket on server, an http(s) base URL.
func Dial(ctx context.Context, server, token string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	ws := *base
	switch base.Scheme {
	case "https":
		ws.Scheme = "wss"
	case "http", "":
		ws.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	ws.Path = base.Path + "/ws/chat/"

	conn, _, err := websocket.Dial(ctx, ws.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", ws.String(), err)
	}
	return &Client{base: base, token: token, conn: conn, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Send writes one JSON frame.
func (c *Client) Send(ctx context.Context, frame any) error {
	return wsjson.Write(ctx, c.conn, frame)
}

// Next blocks for the next server frame.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(raw)
}

// History fetches the newest limit messages of roomID, oldest first.
func (c *Client) History(ctx context.Context, roomID uint, limit int) ([]Line, error) {
	u := *c.base
	u.Path = fmt.Sprintf("%s/api/rooms/%d/messages", c.base.Path, roomID)
	u.RawQuery = url.Values{"limit": []string{fmt.Sprint(limit)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: %s: %s", resp.Status, gjson.GetBytes(body, "error.message").String())
	}
	var lines []Line
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		lines = append(lines, LineFromMessage(v))
		return true
	})
	return lines, nil
}

// Close ends the websocket session.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
