package model

import "strings"

// Status values as they appear in the sheet's estado column. The sheet is
// edited by hand, so comparisons are case-insensitive and trimmed.
const (
	StatusPending = "pendiente"
	StatusSent    = "enviado"
	StatusError   = "error"
)

// Cell values written back to the sheet after a dispatch attempt.
const (
	CellSent  = "Enviado"
	CellError = "Error"
)

// ScheduledRow is one row of the Mensajes_Programados sheet.
type ScheduledRow struct {
	RowIndex int    // 1-indexed sheet row, the status-cell update target
	Date     string // YYYY-MM-DD or DD/MM/YYYY
	Time     string // HH:MM, 24-hour, process-local timezone
	Phone    string
	Answer   string
	Media    string // optional attachment URL
	Status   string // raw estado cell
}

// Flow is one keyword-reply rule from the Flujos sheet.
type Flow struct {
	Keyword string
	Answer  string
	Media   string
}

// NormalizeStatus lowercases and trims a raw estado cell value.
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsPending reports whether a raw status cell counts as pending: empty,
// blank, or an explicit "pendiente" in any casing.
func IsPending(raw string) bool {
	s := NormalizeStatus(raw)
	return s == "" || s == StatusPending
}
