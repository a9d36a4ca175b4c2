// Package telegram adapts the Telegram Bot API to the chat transport
// the dispatcher runs on. A group chat serves as both guild and channel;
// member status (creator, administrator, member) stands in for roles.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/bastionbot/bastion"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	pollTimeout    = 30 // seconds, long-poll hold
	// roleCacheTTL bounds how stale a cached member status may be.
	roleCacheTTL = 10 * time.Minute
)

// Client is a Telegram Bot API client implementing bastion.Transport.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	roles map[string]roleEntry // "chat/user" -> status
}

type roleEntry struct {
	status string
	at     time.Time
}

var _ bastion.Transport = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBaseURL overrides the API base URL, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New builds a client for a bot token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		logger:     slog.New(slog.DiscardHandler),
		roles:      map[string]roleEntry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Poll long-polls getUpdates and delivers mapped events until ctx is
// cancelled, then closes the channel.
func (c *Client) Poll(ctx context.Context) (<-chan bastion.Event, error) {
	ch := make(chan bastion.Event)
	go c.pollLoop(ctx, ch)
	return ch, nil
}

func (c *Client) pollLoop(ctx context.Context, ch chan<- bastion.Event) {
	defer close(ch)
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		var updates []Update
		err := c.call(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         pollTimeout,
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("telegram: poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			ev := c.mapEvent(ctx, u.Message)
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) mapEvent(ctx context.Context, m *Message) bastion.Event {
	chat := strconv.FormatInt(m.Chat.ID, 10)
	ev := bastion.Event{
		ID:         strconv.FormatInt(m.MessageID, 10),
		Guild:      chat,
		Channel:    chat,
		Author:     strconv.FormatInt(m.From.ID, 10),
		AuthorName: displayName(m.From),
		Content:    m.Text,
		Mentions:   mentions(m),
	}
	if status, err := c.memberStatus(ctx, chat, ev.Author); err == nil && status != "" {
		ev.Roles = []string{status}
	}
	return ev
}

// mentions extracts mentioned users. text_mention carries the user id;
// a plain @username mention only names the account, so the username
// doubles as the id and the store resolves it by preferred name.
func mentions(m *Message) []bastion.Mention {
	var out []bastion.Mention
	text := utf16.Encode([]rune(m.Text))
	for _, e := range m.Entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil {
				out = append(out, bastion.Mention{
					ID:   strconv.FormatInt(e.User.ID, 10),
					Name: displayName(e.User),
				})
			}
		case "mention":
			if e.Offset < 0 || e.Offset+e.Length > len(text) {
				continue
			}
			name := strings.TrimPrefix(string(utf16.Decode(text[e.Offset:e.Offset+e.Length])), "@")
			out = append(out, bastion.Mention{ID: name, Name: name})
		}
	}
	return out
}

func displayName(u *User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// memberStatus returns the cached chat member status, refreshing it
// after roleCacheTTL.
func (c *Client) memberStatus(ctx context.Context, chat, user string) (string, error) {
	key := chat + "/" + user
	c.mu.Lock()
	if e, ok := c.roles[key]; ok && time.Since(e.at) < roleCacheTTL {
		c.mu.Unlock()
		return e.status, nil
	}
	c.mu.Unlock()

	var member ChatMember
	err := c.call(ctx, "getChatMember", map[string]any{
		"chat_id": chat,
		"user_id": user,
	}, &member)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.roles[key] = roleEntry{status: member.Status, at: time.Now()}
	c.mu.Unlock()
	return member.Status, nil
}

// Send posts a message, rendering markdown to Telegram HTML; if the API
// rejects the markup the plain text goes out instead.
func (c *Client) Send(ctx context.Context, channel, text string) (string, error) {
	var sent Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    channel,
		"text":       MarkdownToHTML(text),
		"parse_mode": "HTML",
	}, &sent)
	if err != nil {
		err = c.call(ctx, "sendMessage", map[string]any{
			"chat_id": channel,
			"text":    text,
		}, &sent)
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// SendTTL sends a message and deletes it after ttl. Telegram has no
// native expiry, so the delete is scheduled client-side.
func (c *Client) SendTTL(ctx context.Context, channel, text string, ttl time.Duration) (string, error) {
	id, err := c.Send(ctx, channel, text)
	if err != nil {
		return "", err
	}
	time.AfterFunc(ttl, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Delete(dctx, channel, id); err != nil {
			c.logger.Warn("telegram: ttl delete failed", "channel", channel, "msg", id, "error", err)
		}
	})
	return id, nil
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, channel, msgID string) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: message id %q: %w", msgID, err)
	}
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    channel,
		"message_id": id,
	}, nil)
}

// call posts JSON to a Bot API method and decodes the result envelope.
// Rate limits and server-side failures surface as RemoteError so the
// caller can treat them as transient.
func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &bastion.RemoteError{Op: method, Err: err, Transient: true}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &bastion.RemoteError{Op: method, Err: err, Transient: true}
	}
	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram: decode %s: %w", method, err)
	}
	if !envelope.OK {
		apiErr := fmt.Errorf("telegram: %s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
		if envelope.ErrorCode == http.StatusTooManyRequests || envelope.ErrorCode >= 500 {
			return &bastion.RemoteError{Op: method, Err: apiErr, Transient: true}
		}
		return apiErr
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}
