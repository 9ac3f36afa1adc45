package cache

import "context"

// SentCache guards against duplicate dispatch when the sheet's status column
// could not be written after a successful send. The sheet stays the source of
// truth; this is only a best-effort marker keyed by row and scheduled date.
type SentCache interface {
	MarkSent(ctx context.Context, rowIndex int, date string) error
	WasSent(ctx context.Context, rowIndex int, date string) (bool, error)
}
