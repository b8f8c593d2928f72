package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"finboard/internal/dashboard"
	"finboard/internal/financeapi"
	"finboard/internal/middleware/ratelimit"
)

// financeAPI emulates the remote finance API.
type financeAPI struct {
	mu        sync.Mutex
	txs       []map[string]any
	created   []map[string]any
	failPOST  bool
	failLists bool
}

func newFinanceAPI(t *testing.T) (*financeAPI, *httptest.Server) {
	t.Helper()
	f := &financeAPI{txs: []map[string]any{
		{"id": "1", "amount": 12.5, "category": "Food", "type": "expense", "description": "Groceries", "date": "2024-03-05T10:00:00Z"},
		{"id": "2", "amount": 7.5, "category": "Food", "type": "expense", "description": "Lunch", "date": "2024-03-20T12:00:00Z"},
		{"id": "3", "amount": 1000, "category": "Salary", "type": "income", "description": "April pay", "date": "2024-04-01T08:00:00Z"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *financeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/transactions/":
		if f.failLists {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(f.txs)
	case r.Method == http.MethodGet && r.URL.Path == "/transactions/summary":
		_ = json.NewEncoder(w).Encode(map[string]float64{"total_income": 1000, "total_expense": 20, "balance": 980})
	case r.Method == http.MethodPost && r.URL.Path == "/transactions/":
		if f.failPOST {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.created = append(f.created, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *financeAPI) lastCreated() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func newTestServer(t *testing.T, cfg Config) (*Server, *dashboard.Dashboard, *financeAPI) {
	t.Helper()
	api, remote := newFinanceAPI(t)
	client, err := financeapi.New(remote.URL)
	if err != nil {
		t.Fatalf("finance client: %v", err)
	}
	clock := func() time.Time { return time.Date(2024, time.April, 1, 9, 30, 0, 0, time.UTC) }
	dash := dashboard.New(client, dashboard.WithLocation(time.UTC), dashboard.WithClock(clock))
	if cfg.APITimeout == 0 {
		cfg.APITimeout = 2 * time.Second
	}
	return NewServer(cfg, dash), dash, api
}

func do(t *testing.T, srv *Server, method, target string, form url.Values, htmx bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReadiness(t *testing.T) {
	srv, dash, _ := newTestServer(t, Config{})

	if rr := do(t, srv, http.MethodGet, "/healthz", nil, false); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/readyz", nil, false); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before load status=%d, want 503", rr.Code)
	}

	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rr := do(t, srv, http.MethodGet, "/readyz", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz after load status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"source":"remote"`) {
		t.Fatalf("readyz body missing snapshot source: %s", rr.Body.String())
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReadinessChecksStore(t *testing.T) {
	srv, dash, _ := newTestServer(t, Config{Store: pinger{err: errors.New("disk I/O error")}})
	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	rr := do(t, srv, http.MethodGet, "/readyz", nil, false)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store status=%d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "disk I/O error") {
		t.Errorf("readyz body missing storage failure: %s", rr.Body.String())
	}

	srv.store = pinger{}
	rr = do(t, srv, http.MethodGet, "/readyz", nil, false)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"storage":"ok"`) {
		t.Fatalf("readyz with healthy store status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestIndexRendersSelectedMonth(t *testing.T) {
	srv, dash, _ := newTestServer(t, Config{})
	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	rr := do(t, srv, http.MethodGet, "/?month=2", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"Expenses by category · March",
		"Food: $20",
		"Income: $1,000",
		"Expenses: $20",
		"Month total: $20",
		"Groceries",
		"12.5",
		`class="month selected"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if strings.Count(body, `class="month selected"`) != 1 {
		t.Errorf("expected exactly one selected month")
	}
	if dash.Month() != 2 {
		t.Errorf("selected month = %d, want 2", dash.Month())
	}

	// Out of range values keep the current selection.
	do(t, srv, http.MethodGet, "/?month=12", nil, false)
	if dash.Month() != 2 {
		t.Errorf("month changed to %d on invalid input", dash.Month())
	}
}

func TestEmptyMonthHasNoLegend(t *testing.T) {
	srv, dash, _ := newTestServer(t, Config{})
	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rr := do(t, srv, http.MethodGet, "/ui/dashboard?month=6", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("partial status=%d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, `class="tx `) {
		t.Errorf("July should render no transaction rows")
	}
	if strings.Contains(body, "Food:") {
		t.Errorf("July should have no category legend entries")
	}
	if strings.Contains(body, "<html") {
		t.Errorf("partial should not contain the page shell")
	}
}

func TestChartsJSON(t *testing.T) {
	srv, dash, _ := newTestServer(t, Config{})
	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	rr := do(t, srv, http.MethodGet, "/ui/charts?month=2", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("charts status=%d", rr.Code)
	}
	var charts dashboard.Charts
	if err := json.Unmarshal(rr.Body.Bytes(), &charts); err != nil {
		t.Fatalf("decode charts: %v", err)
	}
	if charts.Month != 2 {
		t.Errorf("month=%d, want 2", charts.Month)
	}
	if len(charts.Categories.Labels) != 1 || charts.Categories.Labels[0] != "Food" || charts.Categories.Data[0] != 20 {
		t.Errorf("unexpected categories: %+v", charts.Categories)
	}
	if charts.Categories.Colors[0] != "#334155" {
		t.Errorf("first category colour=%s", charts.Categories.Colors[0])
	}
	if got := strings.Join(charts.IncomeVsExpense.Colors, ","); got != "#3b82f6,#64748b" {
		t.Errorf("overview colours=%s", got)
	}
	if dash.Month() != 3 {
		t.Errorf("charts must not change the selection, month=%d", dash.Month())
	}
}

func TestCreateTransactionRedirects(t *testing.T) {
	srv, dash, api := newTestServer(t, Config{})

	form := url.Values{
		"amount":      {"50.5"},
		"category":    {"Rent"},
		"type":        {"expense"},
		"description": {"April rent"},
		"month":       {"3"},
	}
	rr := do(t, srv, http.MethodPost, "/transactions", form, false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/?month=3" {
		t.Fatalf("Location=%q", loc)
	}

	got := api.lastCreated()
	if got == nil {
		t.Fatal("finance API received no transaction")
	}
	if got["amount"] != 50.5 || got["category"] != "Rent" || got["type"] != "expense" || got["description"] != "April rent" {
		t.Errorf("unexpected payload: %v", got)
	}
	if got["date"] != "2024-04-01T09:30:00.000Z" {
		t.Errorf("date=%v", got["date"])
	}
	if d := dash.Draft(); d.Amount != "" || d.Category != "" || d.Description != "" || d.Type != "expense" {
		t.Errorf("draft not reset: %+v", d)
	}
	if !dash.Ready() {
		t.Errorf("dashboard should be loaded after a successful submit")
	}
}

func TestCreateTransactionNonNumericAmountIsSent(t *testing.T) {
	srv, _, api := newTestServer(t, Config{})

	form := url.Values{"amount": {"abc"}, "category": {"Misc"}, "type": {"expense"}}
	rr := do(t, srv, http.MethodPost, "/transactions", form, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	got := api.lastCreated()
	if got == nil {
		t.Fatal("submission was blocked")
	}
	if v, ok := got["amount"]; !ok || v != nil {
		t.Errorf("amount=%v, want JSON null", v)
	}
}

func TestCreateTransactionHTMX(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	form := url.Values{"amount": {"10"}, "category": {"Food"}, "type": {"expense"}, "description": {"Snack"}}
	rr := do(t, srv, http.MethodPost, "/transactions", form, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	trigger := rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, `"transaction:created"`) || !strings.Contains(trigger, `"month":3`) {
		t.Errorf("HX-Trigger=%s", trigger)
	}
	if !strings.Contains(rr.Body.String(), `id="dashboard"`) {
		t.Errorf("expected dashboard partial in body")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control=%q, want no-store", rr.Header().Get("Cache-Control"))
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	srv, _, api := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/transactions", url.Values{"type": {"transfer"}}, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if api.lastCreated() != nil {
		t.Errorf("invalid type must not reach the finance API")
	}

	rr = do(t, srv, http.MethodGet, "/transactions", nil, false)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestCreateTransactionFailureKeepsDraft(t *testing.T) {
	srv, dash, api := newTestServer(t, Config{})
	api.failPOST = true

	form := url.Values{"amount": {"50.5"}, "category": {"Rent"}, "type": {"expense"}}
	rr := do(t, srv, http.MethodPost, "/transactions", form, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "answered 500") {
		t.Errorf("expected notice in partial: %s", body)
	}
	if !strings.Contains(body, `value="Rent"`) {
		t.Errorf("draft should be shown again")
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), `"show-notification"`) {
		t.Errorf("expected an error notification trigger")
	}
	if dash.Draft().Category != "Rent" {
		t.Errorf("draft lost after failed submit")
	}

	rr = do(t, srv, http.MethodPost, "/notice/dismiss", nil, true)
	if rr.Code != http.StatusOK || dash.Notice() != "" {
		t.Errorf("dismiss failed: status=%d notice=%q", rr.Code, dash.Notice())
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	srv, dash, api := newTestServer(t, Config{})
	if err := dash.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, gen := dash.Snapshot()

	api.mu.Lock()
	api.failLists = true
	api.mu.Unlock()

	rr := do(t, srv, http.MethodPost, "/refresh", nil, false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	snap, after := dash.Snapshot()
	if after != gen || len(snap.Transactions) != 3 {
		t.Errorf("snapshot replaced after failed refresh")
	}
	if !strings.Contains(dash.Notice(), "answered 502") {
		t.Errorf("notice=%q", dash.Notice())
	}
}

func TestRateLimitOnPOST(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1})
	srv, _, _ := newTestServer(t, Config{Limiter: limiter})

	if rr := do(t, srv, http.MethodPost, "/refresh", nil, false); rr.Code != http.StatusSeeOther {
		t.Fatalf("first refresh status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/refresh", nil, false)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After=%q", rr.Header().Get("Retry-After"))
	}
	// Reads are never limited.
	if rr := do(t, srv, http.MethodGet, "/healthz", nil, false); rr.Code != http.StatusOK {
		t.Errorf("GET limited: %d", rr.Code)
	}
}

func TestMiddlewareHeadersAndStatic(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/", nil, false)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing request id")
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Errorf("missing CSP")
	}

	rr = do(t, srv, http.MethodGet, "/static/dashboard.js", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("static status=%d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Cache-Control"), "public") {
		t.Errorf("Cache-Control=%q", rr.Header().Get("Cache-Control"))
	}

	if rr := do(t, srv, http.MethodGet, "/nope", nil, false); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status=%d", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	do(t, srv, http.MethodPost, "/transactions", url.Values{"amount": {"1"}, "category": {"A"}}, false)

	rr := do(t, srv, http.MethodGet, "/metrics", nil, false)
	body := rr.Body.String()
	for _, want := range []string{"transactions_submitted_total 1", "http_requests_total 2", "snapshot_generation 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Rent  ", "Rent"},
		{"a\x00b\x07c", "abc"},
		{"line\nbreak", "line\nbreak"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
