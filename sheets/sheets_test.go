package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bastionbot/bastion"
)

type fakeSheets struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	respond  func(r *http.Request) (int, string)
}

func (f *fakeSheets) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		code, resp := f.respond(r)
		w.WriteHeader(code)
		w.Write([]byte(resp)) //nolint:errcheck
	}
}

func testClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New("doc1", "Current", "key123", WithBaseURL(srv.URL))
}

func TestWholeSheetPadsRows(t *testing.T) {
	f := &fakeSheets{respond: func(r *http.Request) (int, string) {
		return 200, `{"values": [["Frey", 4910, "=F3+1"], ["Rana"]]}`
	}}
	c := testClient(t, f)

	got, err := c.WholeSheet(context.Background())
	if err != nil {
		t.Fatalf("whole sheet: %v", err)
	}
	want := [][]string{{"Frey", "4910", "=F3+1"}, {"Rana", "", ""}}
	if len(got) != 2 || len(got[0]) != 3 || len(got[1]) != 3 {
		t.Fatalf("shape = %v", got)
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("cell [%d][%d] = %q, want %q", i, j, got[i][j], want[i][j])
			}
		}
	}
	// Formulas come back in source form.
	if q := f.requests[0].URL.RawQuery; !strings.Contains(q, "valueRenderOption=FORMULA") {
		t.Errorf("query = %s", q)
	}
}

func TestBatchUpdateQualifiesRanges(t *testing.T) {
	f := &fakeSheets{respond: func(r *http.Request) (int, string) { return 200, `{}` }}
	c := testClient(t, f)

	err := c.BatchUpdate(context.Background(), []bastion.Update{
		{Range: "F11", Values: [][]string{{"700"}}},
	})
	if err != nil {
		t.Fatalf("batch update: %v", err)
	}
	data := f.bodies[0]["data"].([]any)
	first := data[0].(map[string]any)
	if first["range"] != "'Current'!F11" {
		t.Errorf("range = %v", first["range"])
	}
	if f.bodies[0]["valueInputOption"] != "USER_ENTERED" {
		t.Errorf("input option = %v", f.bodies[0]["valueInputOption"])
	}
}

func TestChangeWorksheetVerifiesTab(t *testing.T) {
	f := &fakeSheets{respond: func(r *http.Request) (int, string) {
		return 200, `{"sheets": [{"properties": {"title": "Current"}}, {"properties": {"title": "Cycle 42"}}]}`
	}}
	c := testClient(t, f)
	ctx := context.Background()

	if err := c.ChangeWorksheet(ctx, "Cycle 42"); err != nil {
		t.Fatalf("change worksheet: %v", err)
	}
	if got := c.qualify("A1"); got != "'Cycle 42'!A1" {
		t.Errorf("qualified = %s", got)
	}
	if err := c.ChangeWorksheet(ctx, "Cycle 99"); err == nil {
		t.Error("missing tab accepted")
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	f := &fakeSheets{respond: func(r *http.Request) (int, string) { return 503, `unavailable` }}
	c := testClient(t, f)

	_, err := c.WholeSheet(context.Background())
	var remote *bastion.RemoteError
	if !errors.As(err, &remote) || !remote.Transient {
		t.Errorf("err = %v, want transient remote error", err)
	}
}

func TestClientErrorsAreNot(t *testing.T) {
	f := &fakeSheets{respond: func(r *http.Request) (int, string) { return 403, `forbidden` }}
	c := testClient(t, f)

	_, err := c.Title(context.Background())
	var remote *bastion.RemoteError
	if errors.As(err, &remote) {
		t.Errorf("err = %v, 403 must not be retried", err)
	}
}
