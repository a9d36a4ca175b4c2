package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI is a minimal Bot API server: one batch of updates, then empty
// polls. It records every method call.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []string
	bodies  map[string][]map[string]any
	updates []Update
	served  bool
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck

		f.mu.Lock()
		f.calls = append(f.calls, method)
		if f.bodies == nil {
			f.bodies = map[string][]map[string]any{}
		}
		f.bodies[method] = append(f.bodies[method], body)
		f.mu.Unlock()

		switch method {
		case "getUpdates":
			f.mu.Lock()
			ups := f.updates
			if f.served {
				ups = nil
			}
			f.served = true
			f.mu.Unlock()
			writeResult(w, ups)
		case "sendMessage":
			writeResult(w, Message{MessageID: 99})
		case "getChatMember":
			writeResult(w, ChatMember{Status: "administrator"})
		default:
			writeResult(w, true)
		}
	}
}

func writeResult(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result) //nolint:errcheck
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, raw)
}

func (f *fakeAPI) called(method string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method]
}

func testClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return New("token", WithBaseURL(srv.URL))
}

func TestPollMapsEvents(t *testing.T) {
	api := &fakeAPI{updates: []Update{{
		UpdateID: 7,
		Message: &Message{
			MessageID: 42,
			From:      &User{ID: 1001, Username: "alice"},
			Chat:      Chat{ID: -500, Type: "group"},
			Text:      "!drop 500 @bob",
			Entities: []Entity{
				{Type: "mention", Offset: 10, Length: 4},
			},
		},
	}}}
	c := testClient(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	select {
	case ev := <-events:
		if ev.ID != "42" || ev.Author != "1001" || ev.AuthorName != "alice" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Guild != "-500" || ev.Channel != "-500" {
			t.Errorf("chat mapping = %s/%s", ev.Guild, ev.Channel)
		}
		if len(ev.Mentions) != 1 || ev.Mentions[0].Name != "bob" {
			t.Errorf("mentions = %+v", ev.Mentions)
		}
		if len(ev.Roles) != 1 || ev.Roles[0] != "administrator" {
			t.Errorf("roles = %+v", ev.Roles)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestTextMentionCarriesUserID(t *testing.T) {
	m := &Message{
		Text: "!drop 500 Bob",
		Entities: []Entity{
			{Type: "text_mention", Offset: 10, Length: 3, User: &User{ID: 2002, FirstName: "Bob"}},
		},
	}
	got := mentions(m)
	if len(got) != 1 || got[0].ID != "2002" || got[0].Name != "Bob" {
		t.Errorf("mentions = %+v", got)
	}
}

func TestSendRendersHTML(t *testing.T) {
	api := &fakeAPI{}
	c := testClient(t, api)

	id, err := c.Send(context.Background(), "-500", "Frey is **fortified**")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "99" {
		t.Errorf("id = %s", id)
	}
	sent := api.called("sendMessage")
	if len(sent) != 1 {
		t.Fatalf("sendMessage calls = %d", len(sent))
	}
	if text := sent[0]["text"].(string); !strings.Contains(text, "<b>fortified</b>") {
		t.Errorf("text = %q", text)
	}
	if sent[0]["parse_mode"] != "HTML" {
		t.Errorf("parse_mode = %v", sent[0]["parse_mode"])
	}
}

func TestSendTTLDeletesLater(t *testing.T) {
	api := &fakeAPI{}
	c := testClient(t, api)

	if _, err := c.SendTTL(context.Background(), "-500", "gone soon", 20*time.Millisecond); err != nil {
		t.Fatalf("sendTTL: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(api.called("deleteMessage")) == 0 {
		select {
		case <-deadline:
			t.Fatal("message never deleted")
		case <-time.After(10 * time.Millisecond):
		}
	}
	del := api.called("deleteMessage")[0]
	if del["message_id"].(float64) != 99 {
		t.Errorf("deleted = %v", del)
	}
}
