// Package sheets is the remote tabular document client, speaking the
// Google Sheets values API over HTTP. One Client serves one document
// tab; wrap it with bastion.WithRetry for transient-failure handling.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bastionbot/bastion"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// Client reads and writes one spreadsheet tab.
type Client struct {
	docID      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu  sync.RWMutex
	tab string
}

var _ bastion.SheetClient = (*Client)(nil)

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

// New builds a client for one document and tab.
func New(docID, tab, apiKey string, opts ...Option) *Client {
	c := &Client{
		docID:      docID,
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.DiscardHandler),
		tab:        tab,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) currentTab() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tab
}

// Worksheet returns the tab the client currently targets.
func (c *Client) Worksheet() string { return c.currentTab() }

// qualify prefixes a bare A1 range with the current tab.
func (c *Client) qualify(rng string) string {
	if strings.Contains(rng, "!") {
		return rng
	}
	return "'" + c.currentTab() + "'!" + rng
}

// Title returns the document title.
func (c *Client) Title(ctx context.Context) (string, error) {
	var doc struct {
		Properties struct {
			Title string `json:"title"`
		} `json:"properties"`
	}
	path := "/" + c.docID + "?fields=properties.title"
	if err := c.get(ctx, "title", path, &doc); err != nil {
		return "", err
	}
	return doc.Properties.Title, nil
}

// WholeSheet returns every cell of the current tab as strings,
// row-major, each row padded to the sheet width. Formulas come back in
// source form so the scanners can rewrite them.
func (c *Client) WholeSheet(ctx context.Context) ([][]string, error) {
	var vr valueRange
	path := "/" + c.docID + "/values/" + url.PathEscape("'"+c.currentTab()+"'") +
		"?valueRenderOption=FORMULA"
	if err := c.get(ctx, "whole sheet", path, &vr); err != nil {
		return nil, err
	}
	return pad(vr.Values), nil
}

// BatchGet reads several A1 ranges in one call.
func (c *Client) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	q := url.Values{}
	q.Set("valueRenderOption", "FORMULA")
	for _, r := range ranges {
		q.Add("ranges", c.qualify(r))
	}
	var resp struct {
		ValueRanges []valueRange `json:"valueRanges"`
	}
	path := "/" + c.docID + "/values:batchGet?" + q.Encode()
	if err := c.get(ctx, "batch get", path, &resp); err != nil {
		return nil, err
	}
	out := make([][][]string, len(resp.ValueRanges))
	for i, vr := range resp.ValueRanges {
		out[i] = pad(vr.Values)
	}
	return out, nil
}

// BatchUpdate applies several writes in one call.
func (c *Client) BatchUpdate(ctx context.Context, updates []bastion.Update) error {
	type data struct {
		Range  string     `json:"range"`
		Values [][]string `json:"values"`
	}
	body := struct {
		ValueInputOption string `json:"valueInputOption"`
		Data             []data `json:"data"`
	}{ValueInputOption: "USER_ENTERED"}
	for _, u := range updates {
		body.Data = append(body.Data, data{Range: c.qualify(u.Range), Values: u.Values})
	}
	path := "/" + c.docID + "/values:batchUpdate"
	return c.post(ctx, "batch update", path, body, nil)
}

// ChangeWorksheet retargets the client to another tab after verifying
// the tab exists.
func (c *Client) ChangeWorksheet(ctx context.Context, tab string) error {
	var doc struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	path := "/" + c.docID + "?fields=sheets.properties.title"
	if err := c.get(ctx, "change worksheet", path, &doc); err != nil {
		return err
	}
	for _, s := range doc.Sheets {
		if s.Properties.Title == tab {
			c.mu.Lock()
			c.tab = tab
			c.mu.Unlock()
			c.logger.Info("sheets: tab changed", "doc", c.docID, "tab", tab)
			return nil
		}
	}
	return fmt.Errorf("sheets: document %s has no tab %q", c.docID, tab)
}

type valueRange struct {
	Values [][]any `json:"values"`
}

// pad stringifies the value matrix and pads every row to the widest.
func pad(values [][]any) [][]string {
	width := 0
	for _, row := range values {
		if len(row) > width {
			width = len(row)
		}
	}
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, width)
		for j, v := range row {
			out[i][j] = cellString(v)
		}
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		// Integral floats print without the decimal point, matching how
		// the sheet displays them.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func (c *Client) get(ctx context.Context, op, path string, result any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sheets: %s: marshal: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, payload, result)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, result any) error {
	u := c.baseURL + path
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "key=" + url.QueryEscape(c.apiKey)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("sheets: %s: request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &bastion.RemoteError{Op: "sheets " + op, Err: err, Transient: true}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &bastion.RemoteError{Op: "sheets " + op, Err: err, Transient: true}
	}
	if resp.StatusCode != http.StatusOK {
		httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &bastion.RemoteError{Op: "sheets " + op, Err: httpErr, Transient: true}
		}
		return fmt.Errorf("sheets: %s: %w", op, httpErr)
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("sheets: %s: decode: %w", op, err)
		}
	}
	return nil
}
