package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"evsales-dashboard/ingest"
)

func sampleReport(status string) *ingest.Report {
	return &ingest.Report{
		ID:      "run-42",
		Kind:    ingest.KindSales,
		Source:  "GASGOO",
		Status:  status,
		Total:   10,
		Matched: 8,
		Dropped: 2,
		Written: 8,
		Windows: []ingest.WindowFailure{{Period: "202501", Error: "status 503"}},
	}
}

func TestCreatePayload(t *testing.T) {
	wm := NewWebhookManager(nil, nil)
	p := wm.CreatePayload(sampleReport(ingest.StatusPartial))

	if p.RunID != "run-42" || p.Failures != 1 {
		t.Errorf("unexpected payload %+v", p)
	}
	want := "📊 SYNC SALES GASGOO | PARTIAL | written 8/10 | coverage 80.0% | failures 1"
	if p.Message != want {
		t.Errorf("message = %q, want %q", p.Message, want)
	}
	if _, ok := p.Metadata["window_failures"]; !ok {
		t.Error("window failures missing from metadata")
	}
}

func TestSyncCompletedDelivers(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []WebhookPayload
		auth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p WebhookPayload
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		got = append(got, p)
		auth = append(auth, r.Header.Get("X-Token"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wm := NewWebhookManager([]Webhook{
		{URL: srv.URL, AuthHeader: "X-Token", AuthValue: "secret"},
		{URL: srv.URL + "/failures", Statuses: []string{"failed"}},
	}, nil)

	wm.SyncCompleted(context.Background(), sampleReport(ingest.StatusSuccess))
	wm.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery (status filter), got %d", len(got))
	}
	if got[0].Status != ingest.StatusSuccess || auth[0] != "secret" {
		t.Errorf("unexpected delivery %+v auth=%q", got[0], auth[0])
	}
}

func TestDeliverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wm := NewWebhookManager([]Webhook{{URL: srv.URL, RetryCount: 3}}, nil)
	wm.SyncCompleted(context.Background(), sampleReport(ingest.StatusFailed))
	wm.Wait()

	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDeliveredKeyStable(t *testing.T) {
	a := deliveredKey("run", "http://example.com/hook")
	b := deliveredKey("run", "http://example.com/hook")
	if a != b || !strings.HasPrefix(a, "webhook:delivered:run:") {
		t.Errorf("unexpected keys %q %q", a, b)
	}
}
