package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"areacast/internal/audit"
	"areacast/internal/channel"
	"areacast/internal/directory"
	"areacast/internal/provider"
	"areacast/pkg/logx"
)

type fakeSender struct {
	name string

	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
}

func (f *fakeSender) Name() string {
	if f.name == "" {
		return provider.BackendTwilio
	}
	return f.name
}

// Send fails on a canceled context the way the HTTP adapters do.
func (f *fakeSender) Send(ctx context.Context, to, _ string) provider.Result {
	if err := ctx.Err(); err != nil {
		return provider.Result{To: to, OK: false, Info: err.Error()}
	}
	f.mu.Lock()
	f.calls = append(f.calls, to)
	f.mu.Unlock()
	if f.failFor[to] {
		return provider.Result{To: to, OK: false, Info: "503: unavailable"}
	}
	return provider.Result{To: to, OK: true, Info: "SM" + to}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	srv       *Server
	sender    *fakeSender
	auditPath string
}

const testCSV = "phone,area,account_id,name\n" +
	"+15550000001,Sector7,AC001,Asha\n" +
	"+15550000002,Sector7,AC002,Ravi\n" +
	"+15550000003,Sector7,AC003,Mira\n" +
	"+15550000004,Sector8,AC004,Dev\n" +
	"+15550000005,Sector8,AC005,Lena\n"

func testPricing() audit.Pricing {
	return audit.Pricing{
		Currency: "INR",
		Default:  audit.CategoryUtility,
		Prices: map[string]float64{
			audit.CategoryService:   0.5,
			audit.CategoryUtility:   0.25,
			audit.CategoryMarketing: 0.8,
		},
	}
}

func newTestEnv(t *testing.T, csvContent string, native bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	contactsPath := filepath.Join(dir, "customers.csv")
	if csvContent != "" {
		if err := os.WriteFile(contactsPath, []byte(csvContent), 0o644); err != nil {
			t.Fatalf("write contacts: %v", err)
		}
	}

	auditPath := filepath.Join(dir, "sends.csv")
	store, err := audit.Open(audit.Config{Driver: "csv", Path: auditPath}, logx.Nop())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sender := &fakeSender{}
	backend := provider.BackendTwilio
	if native {
		backend = provider.BackendCloud
		sender.name = provider.BackendCloud
	}

	srv := New(Options{
		Listen:    "127.0.0.1:0",
		Log:       logx.Nop(),
		Directory: directory.NewLoader(contactsPath, logx.Nop()),
		Pick: func(channel.Channel) (string, bool) {
			return backend, native
		},
		SenderFor: func(channel.Channel) (provider.Sender, error) {
			return sender, nil
		},
		Workers: 4,
		Pricing: testPricing(),
		Store:   store,
	})
	return &testEnv{srv: srv, sender: sender, auditPath: auditPath}
}

func (e *testEnv) send(t *testing.T, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/api/send", &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func (e *testEnv) auditRows(t *testing.T) [][]string {
	t.Helper()
	f, err := os.Open(e.auditPath)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	return rows
}

func TestSendDryRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	rec, out := env.send(t, map[string]any{
		"area":    "Sector7",
		"channel": "sms",
		"message": "power restored at 6",
		"dry_run": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if out["dry_run"] != true || out["count"] != float64(3) {
		t.Fatalf("response = %v", out)
	}
	if out["estimated_cost"] != 3*0.25 {
		t.Fatalf("estimated_cost = %v, want %v", out["estimated_cost"], 3*0.25)
	}
	if out["unit_price"] != 0.25 || out["currency"] != "INR" {
		t.Fatalf("pricing fields = %v", out)
	}
	if out["fingerprint"] == "" || out["whatsapp_backend"] != provider.BackendTwilio {
		t.Fatalf("response = %v", out)
	}
	if out["message_preview"] != "power restored at 6" {
		t.Fatalf("message_preview = %v", out["message_preview"])
	}
	if got := env.sender.callCount(); got != 0 {
		t.Fatalf("dry run made %d provider calls", got)
	}
	if rows := env.auditRows(t); len(rows) != 1 {
		t.Fatalf("dry run wrote audit rows: %v", rows)
	}
}

func TestSendLiveWithFailures(t *testing.T) {
	t.Parallel()

	csvContent := "phone,area,account_id\n" +
		"+1,Sector7,A\n+2,Sector7,B\n+3,Sector7,C\n+4,Sector7,D\n+5,Sector7,E\n"
	env := newTestEnv(t, csvContent, false)
	env.sender.failFor = map[string]bool{"+2": true, "+4": true}

	rec, out := env.send(t, map[string]any{
		"area":             "Sector7",
		"channel":          "sms",
		"message":          "outage tonight",
		"msg_type":         "outage",
		"eta_start":        "18:00",
		"eta_end":          "20:00",
		"pricing_category": "service",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if out["count"] != float64(5) || out["sent"] != float64(3) || out["failed"] != float64(2) {
		t.Fatalf("counts = %v", out)
	}
	if out["estimated_cost"] != 3*0.5 {
		t.Fatalf("estimated_cost = %v, want unit x successes", out["estimated_cost"])
	}
	if out["pricing_category"] != "service" {
		t.Fatalf("pricing_category = %v", out["pricing_category"])
	}
	sample, _ := out["results_sample"].([]any)
	if len(sample) != 5 {
		t.Fatalf("results_sample len = %d", len(sample))
	}
	statuses := map[string]int{}
	for _, s := range sample {
		m := s.(map[string]any)
		statuses[m["status"].(string)]++
		if m["id_or_error"] == "" {
			t.Fatalf("sample entry missing id_or_error: %v", m)
		}
	}
	if statuses["sent"] != 3 || statuses["error"] != 2 {
		t.Fatalf("sample statuses = %v", statuses)
	}

	rows := env.auditRows(t)
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want header + 1", len(rows))
	}
	row := rows[1]
	if row[1] != "Sector7" || row[2] != "sms" || row[3] != "5" || row[4] != "3" || row[5] != "2" {
		t.Fatalf("audit row = %v", row)
	}
	if row[7] != "outage" || row[8] != "18:00-20:00" || row[9] != "service" {
		t.Fatalf("audit row tail = %v", row)
	}
}

func TestSendEmptyArea(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	rec, out := env.send(t, map[string]any{"area": "Sector9", "channel": "sms", "message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg, _ := out["error"].(string); msg == "" {
		t.Fatalf("response = %v", out)
	}
	if rows := env.auditRows(t); len(rows) != 1 {
		t.Fatalf("not-found wrote audit rows: %v", rows)
	}
	if env.sender.callCount() != 0 {
		t.Fatal("not-found path invoked the provider")
	}
}

func TestSendMissingContactSource(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "", false)
	rec, _ := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rows := env.auditRows(t); len(rows) != 1 {
		t.Fatalf("missing source wrote audit rows: %v", rows)
	}
}

func TestSendSchemaError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "phone,name\n+1,Asha\n", false)
	rec, _ := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	tests := []struct {
		name string
		body any
	}{
		{"missing area", map[string]any{"channel": "sms", "message": "hi"}},
		{"missing message", map[string]any{"area": "Sector7", "channel": "sms"}},
		{"blank message", map[string]any{"area": "Sector7", "channel": "sms", "message": "   "}},
		{"bad channel", map[string]any{"area": "Sector7", "channel": "email", "message": "hi"}},
		{"invalid json", "{not json"},
	}
	for _, tt := range tests {
		rec, _ := env.send(t, tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
		}
	}
	if env.sender.callCount() != 0 {
		t.Fatal("validation failures invoked the provider")
	}
}

func TestSendDefaultsToWhatsApp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	rec, out := env.send(t, map[string]any{"area": "Sector7", "message": "hi", "dry_run": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["channel"] != "whatsapp" {
		t.Fatalf("channel = %v, want whatsapp default", out["channel"])
	}
}

func TestSendUnknownCategoryFallsBack(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	_, out := env.send(t, map[string]any{
		"area": "Sector7", "channel": "sms", "message": "hi",
		"dry_run": true, "pricing_category": "promotional",
	})
	if out["pricing_category"] != "utility" || out["unit_price"] != 0.25 {
		t.Fatalf("fallback = %v / %v", out["pricing_category"], out["unit_price"])
	}
}

func TestSendPrefixesWhatsAppOverBulkBackend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	rec, _ := env.send(t, map[string]any{"area": "Sector8", "channel": "whatsapp", "message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env.sender.mu.Lock()
	defer env.sender.mu.Unlock()
	if len(env.sender.calls) != 2 {
		t.Fatalf("calls = %v", env.sender.calls)
	}
	for _, to := range env.sender.calls {
		if !strings.HasPrefix(to, "whatsapp:+") {
			t.Fatalf("recipient %q missing whatsapp marker", to)
		}
	}
}

func TestSendNativeBackendBareNumbers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, true)
	rec, out := env.send(t, map[string]any{"area": "Sector8", "channel": "whatsapp", "message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["whatsapp_backend"] != provider.BackendCloud {
		t.Fatalf("backend = %v", out["whatsapp_backend"])
	}
	env.sender.mu.Lock()
	defer env.sender.mu.Unlock()
	for _, to := range env.sender.calls {
		if strings.HasPrefix(to, "whatsapp:") {
			t.Fatalf("native backend got marked address %q", to)
		}
	}
}

func TestSendSampleCapped(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("phone,area,account_id\n")
	for i := 0; i < 12; i++ {
		b.WriteString("+1555000")
		b.WriteByte(byte('0' + i%10))
		b.WriteString(",Big,AC\n")
	}
	env := newTestEnv(t, b.String(), false)
	_, out := env.send(t, map[string]any{"area": "Big", "channel": "sms", "message": "hi"})
	sample, _ := out["results_sample"].([]any)
	if len(sample) != 10 {
		t.Fatalf("sample len = %d, want 10", len(sample))
	}
	if out["count"] != float64(12) {
		t.Fatalf("count = %v", out["count"])
	}
}

func TestSendSenderConstructionFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	env.srv.opts.SenderFor = func(channel.Channel) (provider.Sender, error) {
		return nil, errors.New("no messaging service sid and no from identity")
	}
	rec, _ := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "hi"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rows := env.auditRows(t); len(rows) != 1 {
		t.Fatalf("failed construction wrote audit rows: %v", rows)
	}

	// Dry run never constructs the sender, so the same config estimates fine.
	rec, _ = env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "hi", "dry_run": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("dry-run status = %d, want 200", rec.Code)
	}
}

func TestAreas(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	req := httptest.NewRequest(http.MethodGet, "/api/areas", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Areas     []string                       `json:"areas"`
		Counts    map[string]int                 `json:"counts"`
		Customers map[string][]directory.Contact `json:"customers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Areas) != 2 || out.Areas[0] != "Sector7" || out.Areas[1] != "Sector8" {
		t.Fatalf("areas = %v", out.Areas)
	}
	if out.Counts["Sector7"] != 3 || out.Counts["Sector8"] != 2 {
		t.Fatalf("counts = %v", out.Counts)
	}
	if len(out.Customers["Sector7"]) != 3 {
		t.Fatalf("customers = %v", out.Customers)
	}
}

func TestAreasMissingSource(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "", false)
	req := httptest.NewRequest(http.MethodGet, "/api/areas", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPublicConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	req := httptest.NewRequest(http.MethodGet, "/api/public_config", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	var out struct {
		Currency        string             `json:"currency"`
		DefaultCategory string             `json:"default_pricing_category"`
		Prices          map[string]float64 `json:"prices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Currency != "INR" || out.DefaultCategory != "utility" {
		t.Fatalf("response = %+v", out)
	}
	if out.Prices["marketing"] != 0.8 {
		t.Fatalf("prices = %v", out.Prices)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSendSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{
		"area": "Sector7", "channel": "sms", "message": "outage tonight",
	}); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // connection already gone before dispatch starts
	req := httptest.NewRequest(http.MethodPost, "/api/send", &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["sent"] != float64(3) || out["failed"] != float64(0) {
		t.Fatalf("disconnect aborted the blast: sent=%v failed=%v", out["sent"], out["failed"])
	}
	if got := env.sender.callCount(); got != 3 {
		t.Fatalf("provider saw %d calls, want 3", got)
	}
	rows := env.auditRows(t)
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want header + 1", len(rows))
	}
	if rows[1][4] != "3" || rows[1][5] != "0" {
		t.Fatalf("audit row recorded aborted sends: %v", rows[1])
	}
}

func TestSendFingerprintStable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testCSV, false)
	_, a := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "same", "dry_run": true})
	_, b := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "same", "dry_run": true})
	_, c := env.send(t, map[string]any{"area": "Sector7", "channel": "sms", "message": "other", "dry_run": true})

	if a["fingerprint"] != b["fingerprint"] {
		t.Fatalf("same blast produced %v and %v", a["fingerprint"], b["fingerprint"])
	}
	if a["fingerprint"] == c["fingerprint"] {
		t.Fatal("different message produced identical fingerprint")
	}
}
