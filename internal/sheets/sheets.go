package sheets

import (
	"context"

	"sheetbot/internal/model"
)

// Gateway is the spreadsheet access contract consumed by the dispatcher and
// the keyword router. Reads degrade to empty results on failure; only the
// status write reports success.
type Gateway interface {
	GetScheduledMessages(ctx context.Context) []model.ScheduledRow
	UpdateMessageStatus(ctx context.Context, rowIndex int, status string) bool
	GetFlows(ctx context.Context) []model.Flow
	GetPrompts(ctx context.Context) map[string]string
	InvalidateCache()
}
