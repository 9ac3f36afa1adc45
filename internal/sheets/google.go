package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetbot/internal/model"
)

const (
	scheduledRange = "Mensajes_Programados!A2:F"
	flowsRange     = "Flujos!A2:C"
	promptsRange   = "IA_Prompts!A2:C"

	// First data row of the scheduled range; RowIndex = slice index + this.
	scheduledFirstRow = 2
)

// Service reads and writes the bot's spreadsheet through the Sheets API v4.
// Each section keeps its own time-boxed cache so the scheduler, the keyword
// router and the AI settings don't hammer the API every tick.
type Service struct {
	api           *sheets.Service
	spreadsheetID string
	ttl           time.Duration
	now           func() time.Time

	mu               sync.Mutex
	scheduledCache   []model.ScheduledRow
	scheduledFetched time.Time
	flowsCache       []model.Flow
	flowsFetched     time.Time
	promptsCache     map[string]string
	promptsFetched   time.Time
}

// New builds a Service authenticated with the given service-account JSON.
// Extra options come after the credentials so tests can override the
// endpoint and authentication.
func New(ctx context.Context, spreadsheetID, credentialsJSON string, ttl time.Duration, opts ...option.ClientOption) (*Service, error) {
	clientOpts := []option.ClientOption{
		option.WithCredentialsJSON([]byte(credentialsJSON)),
		option.WithScopes(sheets.SpreadsheetsScope),
	}
	clientOpts = append(clientOpts, opts...)

	api, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Service{
		api:           api,
		spreadsheetID: spreadsheetID,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

var _ Gateway = (*Service)(nil)

// GetScheduledMessages returns every row of the scheduled-messages sheet,
// possibly up to one cache TTL stale. Read failures log and return an empty
// slice so a flaky API never breaks a scheduler tick.
func (s *Service) GetScheduledMessages(ctx context.Context) []model.ScheduledRow {
	s.mu.Lock()
	if s.scheduledCache != nil && s.now().Sub(s.scheduledFetched) < s.ttl {
		cached := s.scheduledCache
		s.mu.Unlock()
		slog.Debug("scheduled messages served from cache", "rows", len(cached))
		return cached
	}
	s.mu.Unlock()

	resp, err := s.api.Spreadsheets.Values.Get(s.spreadsheetID, scheduledRange).Context(ctx).Do()
	if err != nil {
		slog.Error("failed to fetch scheduled messages", "error", err)
		return nil
	}

	rows := make([]model.ScheduledRow, 0, len(resp.Values))
	for i, raw := range resp.Values {
		rows = append(rows, model.ScheduledRow{
			RowIndex: i + scheduledFirstRow,
			Date:     cellString(raw, 0),
			Time:     cellString(raw, 1),
			Phone:    cellString(raw, 2),
			Answer:   cellString(raw, 3),
			Media:    cellString(raw, 4),
			Status:   cellString(raw, 5),
		})
	}

	s.mu.Lock()
	s.scheduledCache = rows
	s.scheduledFetched = s.now()
	s.mu.Unlock()

	slog.Info("scheduled messages loaded", "rows", len(rows))
	return rows
}

// UpdateMessageStatus writes the estado cell of one row. Success invalidates
// the scheduled-messages cache so the next tick sees the new status.
func (s *Service) UpdateMessageStatus(ctx context.Context, rowIndex int, status string) bool {
	target := fmt.Sprintf("Mensajes_Programados!F%d", rowIndex)
	vr := &sheets.ValueRange{Values: [][]interface{}{{status}}}

	_, err := s.api.Spreadsheets.Values.Update(s.spreadsheetID, target, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		slog.Error("failed to update message status", "row", rowIndex, "status", status, "error", err)
		return false
	}

	s.mu.Lock()
	s.scheduledCache = nil
	s.scheduledFetched = time.Time{}
	s.mu.Unlock()

	slog.Info("message status updated", "row", rowIndex, "status", status)
	return true
}

// GetFlows returns the keyword-reply rules, cached like the scheduled rows.
func (s *Service) GetFlows(ctx context.Context) []model.Flow {
	s.mu.Lock()
	if s.flowsCache != nil && s.now().Sub(s.flowsFetched) < s.ttl {
		cached := s.flowsCache
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	resp, err := s.api.Spreadsheets.Values.Get(s.spreadsheetID, flowsRange).Context(ctx).Do()
	if err != nil {
		slog.Error("failed to fetch flows", "error", err)
		return nil
	}

	flows := make([]model.Flow, 0, len(resp.Values))
	for _, raw := range resp.Values {
		flows = append(flows, model.Flow{
			Keyword: cellString(raw, 0),
			Answer:  cellString(raw, 1),
			Media:   cellString(raw, 2),
		})
	}

	s.mu.Lock()
	s.flowsCache = flows
	s.flowsFetched = s.now()
	s.mu.Unlock()

	slog.Info("flows loaded", "count", len(flows))
	return flows
}

// GetPrompts returns the AI settings sheet as a key/value map. The first
// row's A column is the system prompt; remaining rows are B=key, C=value.
func (s *Service) GetPrompts(ctx context.Context) map[string]string {
	s.mu.Lock()
	if s.promptsCache != nil && s.now().Sub(s.promptsFetched) < s.ttl {
		cached := s.promptsCache
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	resp, err := s.api.Spreadsheets.Values.Get(s.spreadsheetID, promptsRange).Context(ctx).Do()
	if err != nil {
		slog.Error("failed to fetch prompts", "error", err)
		return map[string]string{}
	}

	settings := map[string]string{}
	if len(resp.Values) > 0 {
		if sys := cellString(resp.Values[0], 0); sys != "" {
			settings["system_prompt"] = sys
		}
	}
	for _, raw := range resp.Values {
		key := cellString(raw, 1)
		val := cellString(raw, 2)
		if key != "" && val != "" {
			settings[key] = val
		}
	}

	s.mu.Lock()
	s.promptsCache = settings
	s.promptsFetched = s.now()
	s.mu.Unlock()

	slog.Info("prompts loaded", "keys", len(settings))
	return settings
}

// InvalidateCache drops every cached section, forcing fresh reads.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduledCache = nil
	s.scheduledFetched = time.Time{}
	s.flowsCache = nil
	s.flowsFetched = time.Time{}
	s.promptsCache = nil
	s.promptsFetched = time.Time{}

	slog.Info("sheet caches invalidated")
}

func cellString(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	s, ok := row[i].(string)
	if !ok {
		return fmt.Sprint(row[i])
	}
	return s
}
