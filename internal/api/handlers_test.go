package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sheetbot/internal/dispatch"
	"sheetbot/internal/history"
	"sheetbot/internal/model"
	"sheetbot/internal/scheduler"
	"sheetbot/internal/sheets"
)

type fakeGateway struct {
	rows        []model.ScheduledRow
	invalidated int
}

var _ sheets.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) GetScheduledMessages(ctx context.Context) []model.ScheduledRow {
	return f.rows
}

func (f *fakeGateway) UpdateMessageStatus(ctx context.Context, rowIndex int, status string) bool {
	return true
}

func (f *fakeGateway) GetFlows(ctx context.Context) []model.Flow { return nil }

func (f *fakeGateway) GetPrompts(ctx context.Context) map[string]string { return nil }

func (f *fakeGateway) InvalidateCache() { f.invalidated++ }

type sentMsg struct {
	To    string
	Body  string
	Media string
}

type fakeSender struct {
	sent []sentMsg
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, body, media string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMsg{To: to, Body: body, Media: media})
	return nil
}

type fakeHistory struct {
	records   int
	recordErr error
	stats     history.Stats
	statsErr  error
}

var _ history.Store = (*fakeHistory)(nil)

func (f *fakeHistory) Record(ctx context.Context, phone, role, content string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.records++
	return nil
}

func (f *fakeHistory) Context(ctx context.Context, phone string, n int) ([]history.Message, error) {
	return nil, nil
}

func (f *fakeHistory) CleanOld(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeHistory) Stats(ctx context.Context) (history.Stats, error) {
	return f.stats, f.statsErr
}

type testServer struct {
	sched   *scheduler.Scheduler
	gateway *fakeGateway
	sender  *fakeSender
	history *fakeHistory
	mux     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	// Long interval so nothing ticks during the test.
	s, err := scheduler.New(time.Hour, func(context.Context) {})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	gw := &fakeGateway{}
	sender := &fakeSender{}
	store := &fakeHistory{}
	d := dispatch.New(gw, sender, store, nil, 2*time.Minute)

	h := NewHandler(s, gw, d, sender, store)
	return &testServer{sched: s, gateway: gw, sender: sender, history: store, mux: Router(h)}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Initially should be false.
	{
		req := httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil)
		rr := httptest.NewRecorder()
		ts.mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false, got %v", body)
		}
	}

	// Start
	{
		req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/start", nil)
		rr := httptest.NewRecorder()
		ts.mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || !running {
			t.Fatalf("expected running=true after start, got %v", body)
		}
	}

	// Stop
	{
		req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/stop", nil)
		rr := httptest.NewRecorder()
		ts.mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false after stop, got %v", body)
		}
	}
}

func TestSchedulerCheck_WhileStopped_Returns409(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/check", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while stopped, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if triggered, ok := body["triggered"].(bool); !ok || triggered {
		t.Fatalf("expected triggered=false, got %v", body)
	}
}

func TestSchedulerCheck_WhileRunning_Returns202(t *testing.T) {
	ts := newTestServer(t)
	ts.sched.Start()

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/check", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if triggered, ok := body["triggered"].(bool); !ok || !triggered {
		t.Fatalf("expected triggered=true, got %v", body)
	}
}

func TestSchedulerRestart_InvalidatesCacheAndRestarts(t *testing.T) {
	ts := newTestServer(t)
	ts.sched.Start()

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/restart", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ts.gateway.invalidated != 1 {
		t.Fatalf("expected cache invalidated once, got %d", ts.gateway.invalidated)
	}
	body := decodeJSON(t, rr)
	if running, ok := body["running"].(bool); !ok || !running {
		t.Fatalf("expected running=true after restart, got %v", body)
	}
}

func TestScheduledStats(t *testing.T) {
	ts := newTestServer(t)
	ts.gateway.rows = []model.ScheduledRow{
		{RowIndex: 2, Status: ""},
		{RowIndex: 3, Status: "Pendiente"},
		{RowIndex: 4, Status: "Enviado"},
		{RowIndex: 5, Status: "Error"},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduled/stats", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	var st dispatch.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to decode stats: %v body=%q", err, rr.Body.String())
	}
	want := dispatch.Stats{Total: 4, Pending: 2, Sent: 1, Error: 1}
	if st != want {
		t.Fatalf("expected stats %+v, got %+v", want, st)
	}
}

func TestHistoryStats(t *testing.T) {
	ts := newTestServer(t)
	ts.history.stats = history.Stats{TotalContacts: 3, ActiveContacts: 2, TotalMessages: 12, AveragePerContact: 4}

	req := httptest.NewRequest(http.MethodGet, "/v1/history/stats", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	var st history.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to decode stats: %v body=%q", err, rr.Body.String())
	}
	if st != ts.history.stats {
		t.Fatalf("expected stats %+v, got %+v", ts.history.stats, st)
	}
}

func TestHistoryStats_StoreErrorReturns500(t *testing.T) {
	ts := newTestServer(t)
	ts.history.statsErr = errors.New("disk gone")

	req := httptest.NewRequest(http.MethodGet, "/v1/history/stats", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "disk gone") {
		t.Fatalf("expected error body to contain store error, got %q", rr.Body.String())
	}
}

func TestSendMessage_Success(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"phone":"+54 9 11 2233-4455","message":"hola","media":"https://example.com/a.jpg"}`))
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(ts.sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(ts.sender.sent))
	}
	got := ts.sender.sent[0]
	if got.To != "5491122334455@s.whatsapp.net" {
		t.Fatalf("expected normalized address, got %q", got.To)
	}
	if got.Body != "hola" || got.Media != "https://example.com/a.jpg" {
		t.Fatalf("unexpected send %+v", got)
	}
	if ts.history.records != 1 {
		t.Fatalf("expected 1 history record, got %d", ts.history.records)
	}
}

func TestSendMessage_MissingFieldsReturns400(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"phone":"","message":"hola"}`,
		`{"phone":"549","message":"  "}`,
		`not json at all`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
		rr := httptest.NewRecorder()
		ts.mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for body %q, got %d", body, rr.Code)
		}
	}
	if len(ts.sender.sent) != 0 {
		t.Fatalf("expected no sends, got %+v", ts.sender.sent)
	}
}

func TestSendMessage_SenderErrorReturns502(t *testing.T) {
	ts := newTestServer(t)
	ts.sender.err = errors.New("transport down")

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"phone":"549","message":"hola"}`))
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ts.history.records != 0 {
		t.Fatalf("expected no history record on failed send, got %d", ts.history.records)
	}
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "sheetbot" {
		t.Fatalf("expected body %q, got %q", "sheetbot", got)
	}
}
