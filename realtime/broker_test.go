package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"evsales-dashboard/ingest"
)

func TestEnvelope(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	env, err := Envelope("sync.completed", map[string]interface{}{"written": 3, "status": "SUCCESS"}, at)
	if err != nil {
		t.Fatal(err)
	}

	if got := env.Fields["event"].GetStringValue(); got != "sync.completed" {
		t.Errorf("event = %q", got)
	}
	if got := env.Fields["sent_at"].GetStringValue(); got != "2025-03-01T08:00:00Z" {
		t.Errorf("sent_at = %q", got)
	}
	payload := env.Fields["payload"].GetStructValue()
	if payload.Fields["written"].GetNumberValue() != 3 || payload.Fields["status"].GetStringValue() != "SUCCESS" {
		t.Errorf("payload = %v", payload)
	}
}

func TestEnvelopeRejectsUnencodable(t *testing.T) {
	if _, err := Envelope("x", make(chan int), time.Now()); err == nil {
		t.Error("expected error for channel payload")
	}
}

func startBroker(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(nil)
	go b.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return b, srv
}

func dial(t *testing.T, b *Broker, url string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func TestServeWSText(t *testing.T) {
	b, srv := startBroker(t)
	conn := dial(t, b, "ws"+strings.TrimPrefix(srv.URL, "http"))

	b.SyncCompleted(context.Background(), &ingest.Report{
		ID: "run-1", Kind: ingest.KindSales, Source: "CPCA", Status: ingest.StatusSuccess,
		Total: 4, Matched: 3, Dropped: 1, Written: 3,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != gws.TextMessage {
		t.Errorf("expected text frame, got %d", kind)
	}

	var env structpb.Struct
	if err := protojson.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Fields["event"].GetStringValue() != EventSyncCompleted {
		t.Errorf("event = %v", env.Fields["event"])
	}
	payload := env.Fields["payload"].GetStructValue()
	if payload.Fields["coverage"].GetNumberValue() != 75 {
		t.Errorf("coverage = %v", payload.Fields["coverage"])
	}
	if payload.Fields["source"].GetStringValue() != "CPCA" {
		t.Errorf("source = %v", payload.Fields["source"])
	}
}

func TestServeWSBinary(t *testing.T) {
	b, srv := startBroker(t)
	conn := dial(t, b, "ws"+strings.TrimPrefix(srv.URL, "http")+"?format=proto")

	b.Broadcast(context.Background(), "ping", map[string]string{"hello": "world"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != gws.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", kind)
	}

	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Fields["payload"].GetStructValue().Fields["hello"].GetStringValue() != "world" {
		t.Errorf("payload = %v", env.Fields["payload"])
	}
}
