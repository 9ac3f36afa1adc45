// Package history persists per-contact conversation logs. The file store
// mirrors the bot's original one-JSON-per-contact layout; the Postgres store
// is for deployments that already run a database.
package history

import (
	"context"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

type Stats struct {
	TotalContacts     int `json:"totalContacts"`
	ActiveContacts    int `json:"activeContacts"`
	TotalMessages     int `json:"totalMessages"`
	AveragePerContact int `json:"averageMessagesPerContact"`
}

// Store is the append-only conversation log. Record failures are logged by
// callers and never abort a dispatch.
type Store interface {
	Record(ctx context.Context, phone, role, content string) error
	Context(ctx context.Context, phone string, n int) ([]Message, error)
	CleanOld(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// contactKey reduces any address form to its digits, so a full JID and the
// bare number key the same contact in every store.
func contactKey(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}
