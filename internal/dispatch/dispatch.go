// Package dispatch implements the scheduled-message check: filter the sheet
// rows down to pending-and-due, send each one exactly once, and write the
// outcome back to the sheet's status column.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"sheetbot/internal/cache"
	"sheetbot/internal/history"
	"sheetbot/internal/model"
	"sheetbot/internal/sheets"
)

// Sender is the outbound message port. The address is already in transport
// form (digits + server suffix).
type Sender interface {
	Send(ctx context.Context, to, body, media string) error
}

// Stats buckets the whole sheet by normalized status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Error   int `json:"error"`
}

// Dispatcher runs one scheduled-message check per scheduler tick. It keeps
// no state between ticks: the sheet's status column is the durability
// marker, with the optional sent cache as a duplicate-send guard for the
// window where a send succeeded but the status write failed.
type Dispatcher struct {
	gateway sheets.Gateway
	sender  Sender
	history history.Store
	sent    cache.SentCache
	window  time.Duration
	now     func() time.Time
}

func New(gateway sheets.Gateway, sender Sender, store history.Store, sent cache.SentCache, window time.Duration) *Dispatcher {
	return &Dispatcher{
		gateway: gateway,
		sender:  sender,
		history: store,
		sent:    sent,
		window:  window,
		now:     time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// CheckAndSendPending is the per-tick entry point. Rows are processed
// sequentially in sheet order; one row's failure never aborts the rest.
func (d *Dispatcher) CheckAndSendPending(ctx context.Context) {
	rows := d.gateway.GetScheduledMessages(ctx)

	due := d.dueRows(rows)
	if len(due) == 0 {
		return
	}

	slog.Info("scheduled messages due", "count", len(due))

	for _, row := range due {
		if err := d.sendScheduled(ctx, row); err != nil {
			slog.Error("scheduled message not sent", "row", row.RowIndex, "error", err)
		}
	}
}

// dueRows keeps pending rows scheduled for today within the tolerance
// window, preserving sheet order.
func (d *Dispatcher) dueRows(rows []model.ScheduledRow) []model.ScheduledRow {
	now := d.now()
	today := now.Format("2006-01-02")
	nowMinutes := now.Hour()*60 + now.Minute()
	windowMinutes := int(d.window.Minutes())

	var due []model.ScheduledRow
	for _, row := range rows {
		if !model.IsPending(row.Status) {
			continue
		}

		date := strings.TrimSpace(row.Date)
		hhmm := strings.TrimSpace(row.Time)
		if date == "" || hhmm == "" {
			slog.Warn("scheduled row missing date or time", "row", row.RowIndex, "date", row.Date, "time", row.Time)
			continue
		}

		if NormalizeDate(date) != today {
			continue
		}

		rowMinutes, err := minutesOfDay(hhmm)
		if err != nil {
			slog.Warn("scheduled row has malformed time", "row", row.RowIndex, "time", hhmm)
			continue
		}

		diff := rowMinutes - nowMinutes
		if diff < 0 {
			diff = -diff
		}
		if diff > windowMinutes {
			continue
		}

		slog.Info("scheduled row due", "row", row.RowIndex, "date", date, "time", hhmm, "diff_minutes", diff)
		due = append(due, row)
	}
	return due
}

// sendScheduled runs the per-row procedure: validate, dedupe, send, record
// history, write the status cell.
func (d *Dispatcher) sendScheduled(ctx context.Context, row model.ScheduledRow) error {
	if strings.TrimSpace(row.Phone) == "" || strings.TrimSpace(row.Answer) == "" {
		// Status stays untouched so the operator can fix the row.
		return fmt.Errorf("row %d is missing phone or answer", row.RowIndex)
	}

	date := NormalizeDate(strings.TrimSpace(row.Date))

	if d.sent != nil {
		was, err := d.sent.WasSent(ctx, row.RowIndex, date)
		if err != nil {
			slog.Warn("sent-cache check failed", "row", row.RowIndex, "error", err)
		} else if was {
			slog.Info("row already sent this lifetime, skipping", "row", row.RowIndex)
			// The row is still pending on the sheet, so the earlier status
			// write must have failed. Retry it instead of re-sending.
			if !d.gateway.UpdateMessageStatus(ctx, row.RowIndex, model.CellSent) {
				slog.Error("failed to mark already-sent row", "row", row.RowIndex)
			}
			return nil
		}
	}

	to := FormatAddress(row.Phone)
	media := strings.TrimSpace(row.Media)

	slog.Info("sending scheduled message", "row", row.RowIndex, "to", to)

	if err := d.sender.Send(ctx, to, row.Answer, media); err != nil {
		slog.Error("scheduled send failed", "row", row.RowIndex, "to", to, "error", err)
		if !d.gateway.UpdateMessageStatus(ctx, row.RowIndex, model.CellError) {
			// Both the send and the status write failed: the row stays
			// pending and will be retried next tick.
			slog.Error("failed to mark row as error", "row", row.RowIndex)
		}
		return nil
	}

	if d.sent != nil {
		if err := d.sent.MarkSent(ctx, row.RowIndex, date); err != nil {
			slog.Warn("failed to mark row in sent cache", "row", row.RowIndex, "error", err)
		}
	}

	if err := d.history.Record(ctx, to, history.RoleAssistant, row.Answer); err != nil {
		slog.Warn("failed to record scheduled message in history", "to", to, "error", err)
	}

	if !d.gateway.UpdateMessageStatus(ctx, row.RowIndex, model.CellSent) {
		// Delivered but unmarked: without the sent cache this row would be
		// re-sent next tick.
		slog.Error("message delivered but status write failed", "row", row.RowIndex)
	}

	slog.Info("scheduled message sent", "row", row.RowIndex, "to", to)
	return nil
}

// Stats re-fetches the sheet and buckets rows by normalized status. It is
// read-only and safe to call from the HTTP surface while the scheduler runs.
func (d *Dispatcher) Stats(ctx context.Context) Stats {
	rows := d.gateway.GetScheduledMessages(ctx)

	st := Stats{Total: len(rows)}
	for _, row := range rows {
		switch {
		case model.IsPending(row.Status):
			st.Pending++
		case model.NormalizeStatus(row.Status) == model.StatusSent:
			st.Sent++
		case model.NormalizeStatus(row.Status) == model.StatusError:
			st.Error++
		}
	}
	return st
}

// NormalizeDate converts DD/MM/YYYY into YYYY-MM-DD with zero padding.
// Anything without a slash passes through unchanged; unrecognized formats
// simply fail the equality check against today.
func NormalizeDate(raw string) string {
	if !strings.Contains(raw, "/") {
		return raw
	}

	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return raw
	}

	day, month, year := parts[0], parts[1], parts[2]
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return year + "-" + month + "-" + day
}

// FormatAddress strips everything but digits and appends the WhatsApp user
// server, so bare numbers and already-formed JIDs both normalize to
// <digits>@s.whatsapp.net.
func FormatAddress(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@s.whatsapp.net"
}

func minutesOfDay(hhmm string) (int, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", hhmm)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("malformed hour in %q", hhmm)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("malformed minute in %q", hhmm)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range %q", hhmm)
	}
	return h*60 + m, nil
}
