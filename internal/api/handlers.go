package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"sheetbot/internal/dispatch"
	"sheetbot/internal/history"
	"sheetbot/internal/scheduler"
	"sheetbot/internal/sheets"
)

type Handler struct {
	sched      *scheduler.Scheduler
	gateway    sheets.Gateway
	dispatcher *dispatch.Dispatcher
	sender     dispatch.Sender
	history    history.Store
}

func NewHandler(s *scheduler.Scheduler, g sheets.Gateway, d *dispatch.Dispatcher, sender dispatch.Sender, store history.Store) *Handler {
	return &Handler{
		sched:      s,
		gateway:    g,
		dispatcher: d,
		sender:     sender,
		history:    store,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// SchedulerCheck queues an immediate tick without waiting for the interval.
func (h *Handler) SchedulerCheck(w http.ResponseWriter, r *http.Request) {
	if !h.sched.TriggerNow() {
		writeJSON(w, http.StatusConflict, map[string]any{"running": false, "triggered": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"running": true, "triggered": true})
}

// SchedulerRestart bounces the loop and drops the sheet caches so the next
// tick sees fresh data.
func (h *Handler) SchedulerRestart(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.gateway.InvalidateCache()
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning(), "restarted": true})
}

func (h *Handler) ScheduledStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Stats(r.Context()))
}

func (h *Handler) HistoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.history.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Media   string `json:"media,omitempty"`
}

// SendMessage delivers one ad-hoc message outside the schedule.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Phone) == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "phone and message are required", http.StatusBadRequest)
		return
	}

	to := dispatch.FormatAddress(req.Phone)
	if err := h.sender.Send(r.Context(), to, req.Message, strings.TrimSpace(req.Media)); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if err := h.history.Record(r.Context(), to, history.RoleAssistant, req.Message); err != nil {
		// Delivery already happened, the log entry is best effort.
		writeJSON(w, http.StatusOK, map[string]any{"sent": true, "historyRecorded": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "historyRecorded": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
