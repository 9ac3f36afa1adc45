package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)
	mux.HandleFunc("POST /v1/scheduler/check", h.SchedulerCheck)
	mux.HandleFunc("POST /v1/scheduler/restart", h.SchedulerRestart)

	mux.HandleFunc("GET /v1/scheduled/stats", h.ScheduledStats)
	mux.HandleFunc("GET /v1/history/stats", h.HistoryStats)

	mux.HandleFunc("POST /v1/messages", h.SendMessage)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("sheetbot"))
	})

	return mux
}
