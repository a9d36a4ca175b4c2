package bastion

import "context"

// Update is one batched sheet write: an A1 range plus a row-major block of
// cell values. Writes are idempotent given a stable row/column layout.
type Update struct {
	Range  string
	Values [][]string
}

// SheetClient is the remote tabular document capability for one spreadsheet
// tab. Rate limiting is the implementation's concern; callers still
// coalesce writes.
type SheetClient interface {
	// Title returns the document title.
	Title(ctx context.Context) (string, error)
	// WholeSheet returns every cell as strings, row-major, with each row
	// padded to the sheet width.
	WholeSheet(ctx context.Context) ([][]string, error)
	// BatchGet reads several A1 ranges in one call.
	BatchGet(ctx context.Context, ranges []string) ([][][]string, error)
	// BatchUpdate applies several writes in one call.
	BatchUpdate(ctx context.Context, updates []Update) error
	// ChangeWorksheet retargets the client to another tab of the same document.
	ChangeWorksheet(ctx context.Context, tab string) error
	// Worksheet returns the tab the client currently targets.
	Worksheet() string
}
