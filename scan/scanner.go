package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// Scanner is one document's sync engine. UpdateCells snapshots the
// worksheet; Scan parses the snapshot into the cache inside the caller's
// session. Writes back to the sheet go through Enqueue and the flusher.
type Scanner interface {
	Name() string
	UpdateCells(ctx context.Context) error
	Scan(ctx context.Context, sess *store.Session) error
	ChangeWorksheet(ctx context.Context, tab string) error
	Worksheet() string
	Enqueue(updates ...bastion.Update)
	Flush(ctx context.Context) error
}

// Option configures a scanner.
type Option func(*base)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithFlushDelay sets the debounce window for batched sheet writes.
func WithFlushDelay(d time.Duration) Option {
	return func(b *base) { b.flusher.delay = d }
}

// base carries the per-document snapshot and single-writer lock shared by
// every concrete scanner.
type base struct {
	name   string
	client bastion.SheetClient
	logger *slog.Logger

	// mu serializes snapshot refresh, parsing, and sheet writes for this
	// document. Different documents proceed in parallel.
	mu   sync.Mutex
	rows [][]string
	cols [][]string

	flusher *flusher
}

func newBase(name string, client bastion.SheetClient, opts ...Option) *base {
	b := &base{
		name:    name,
		client:  client,
		logger:  slog.New(slog.DiscardHandler),
		flusher: newFlusher(client),
	}
	for _, o := range opts {
		o(b)
	}
	b.flusher.logger = b.logger
	b.flusher.mu = &b.mu
	return b
}

func (b *base) Name() string { return b.name }

// UpdateCells fetches the whole worksheet into row-major and column-major
// matrices. Idempotent; a fetch failure leaves the previous snapshot.
func (b *base) UpdateCells(ctx context.Context) error {
	rows, err := b.client.WholeSheet(ctx)
	if err != nil {
		return fmt.Errorf("%s: update cells: %w", b.name, err)
	}
	b.mu.Lock()
	b.rows = rows
	b.cols = transpose(rows)
	b.mu.Unlock()
	b.logger.Debug("scan: cells updated", "doc", b.name, "rows", len(rows))
	return nil
}

// ChangeWorksheet retargets the document to another tab and drops the
// stale snapshot.
func (b *base) ChangeWorksheet(ctx context.Context, tab string) error {
	if err := b.client.ChangeWorksheet(ctx, tab); err != nil {
		return fmt.Errorf("%s: change worksheet: %w", b.name, err)
	}
	b.mu.Lock()
	b.rows, b.cols = nil, nil
	b.mu.Unlock()
	b.logger.Info("scan: worksheet changed", "doc", b.name, "tab", tab)
	return nil
}

// Worksheet reports the tab the document currently targets.
func (b *base) Worksheet() string { return b.client.Worksheet() }

// Enqueue queues sheet writes on the debounced flusher.
func (b *base) Enqueue(updates ...bastion.Update) {
	b.flusher.enqueue(updates...)
}

// Flush drains all queued writes now and returns the batch error, so a
// handler can warn the user when the sheet may be out of sync.
func (b *base) Flush(ctx context.Context) error {
	return b.flusher.flush(ctx)
}

// cell returns the trimmed cell at 1-based (row, col), empty when out of
// range. Parsers never index the raw matrices directly.
func (b *base) cell(row, col int) string {
	if row < 1 || row > len(b.rows) {
		return ""
	}
	r := b.rows[row-1]
	if col < 1 || col > len(r) {
		return ""
	}
	return strings.TrimSpace(r[col-1])
}

// width returns the padded sheet width.
func (b *base) width() int { return len(b.cols) }

// height returns the number of snapshot rows.
func (b *base) height() int { return len(b.rows) }

func transpose(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	cols := make([][]string, width)
	for c := range cols {
		col := make([]string, len(rows))
		for r := range rows {
			if c < len(rows[r]) {
				col[r] = rows[r][c]
			}
		}
		cols[c] = col
	}
	return cols
}

// --- Cell parsing helpers shared by the concrete scanners ---

// parseAmount reads a merit cell: blank is zero, thousands separators are
// tolerated.
func parseAmount(s string) (int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return n, nil
}

// parseFraction reads a progress cell: "45%", "0.45", or blank for zero.
func parseFraction(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("fraction %q: %w", s, err)
		}
		return f / 100, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("fraction %q: %w", s, err)
	}
	return f, nil
}

// parseDistance reads a light-year cell, blank for zero.
func parseDistance(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("distance %q: %w", s, err)
	}
	return f, nil
}

func formatAmount(n int) string { return strconv.Itoa(n) }
