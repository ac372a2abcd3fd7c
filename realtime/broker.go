package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"evsales-dashboard/cache"
	"evsales-dashboard/ingest"
	"evsales-dashboard/websocket"
)

// EventsChannel is the Redis channel events are relayed through, so a sync
// started from the CLI reaches browsers connected to the server.
const EventsChannel = "evsales:events"

// EventSyncCompleted is broadcast after every ingestion run.
const EventSyncCompleted = "sync.completed"

const pingInterval = 30 * time.Second

// relayMessage is the Redis wire form of an event.
type relayMessage struct {
	Origin  string          `json:"origin"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Broker fans dashboard events out to SSE and websocket clients.
// Events are structpb envelopes {event, payload, sent_at}; SSE and websocket text
// clients receive protojson, websocket clients asking for format=proto get binary.
type Broker struct {
	id         string
	clients    map[chan *structpb.Struct]bool
	register   chan chan *structpb.Struct
	unregister chan chan *structpb.Struct
	broadcast  chan *structpb.Struct
	stopped    chan struct{}
	redis      *cache.RedisClient
	mu         sync.RWMutex
}

// NewBroker creates a new broker. redis may be nil, which disables relaying.
func NewBroker(redis *cache.RedisClient) *Broker {
	return &Broker{
		id:         uuid.NewString(),
		clients:    make(map[chan *structpb.Struct]bool),
		register:   make(chan chan *structpb.Struct),
		unregister: make(chan chan *structpb.Struct),
		broadcast:  make(chan *structpb.Struct, 256),
		stopped:    make(chan struct{}),
		redis:      redis,
	}
}

// Run starts the broker loop. It returns when ctx is done.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			n := len(b.clients)
			b.mu.Unlock()
			zap.L().Debug("Realtime client connected", zap.Int("total", n))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			n := len(b.clients)
			b.mu.Unlock()
			zap.L().Debug("Realtime client disconnected", zap.Int("total", n))

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					// Skip if client buffer is full to prevent blocking
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// subscribe registers a client; the returned func unregisters it.
func (b *Broker) subscribe(ctx context.Context) (chan *structpb.Struct, func()) {
	ch := make(chan *structpb.Struct, 16)
	select {
	case b.register <- ch:
	case <-ctx.Done():
		return nil, func() {}
	case <-b.stopped:
		return nil, func() {}
	}
	return ch, func() {
		select {
		case b.unregister <- ch:
		case <-b.stopped:
		}
	}
}

// Envelope wraps an event in its wire form. payload must be JSON-encodable.
func Envelope(event string, payload interface{}, at time.Time) (*structpb.Struct, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return envelopeRaw(event, raw, at)
}

func envelopeRaw(event string, raw json.RawMessage, at time.Time) (*structpb.Struct, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	value, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event":   structpb.NewStringValue(event),
		"payload": value,
		"sent_at": structpb.NewStringValue(at.UTC().Format(time.RFC3339)),
	}}, nil
}

// Broadcast sends an event to local clients and relays it to other instances.
func (b *Broker) Broadcast(ctx context.Context, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("Error marshalling broadcast payload", zap.String("event", event), zap.Error(err))
		return
	}
	b.local(event, raw)

	if b.redis != nil {
		msg := relayMessage{Origin: b.id, Event: event, Payload: raw}
		if err := b.redis.Publish(ctx, EventsChannel, msg); err != nil {
			zap.L().Debug("Event relay publish failed", zap.Error(err))
		}
	}
}

func (b *Broker) local(event string, raw json.RawMessage) {
	env, err := envelopeRaw(event, raw, time.Now())
	if err != nil {
		zap.L().Warn("Error building event envelope", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case b.broadcast <- env:
	default:
		// Drop if broadcast buffer full
	}
}

// Relay forwards events published by other instances to local clients until ctx is done.
func (b *Broker) Relay(ctx context.Context) {
	if b.redis == nil {
		return
	}
	ps, err := b.redis.Subscribe(ctx, EventsChannel)
	if err != nil {
		zap.L().Warn("Event relay disabled", zap.Error(err))
		return
	}
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg relayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil || msg.Origin == b.id {
				continue
			}
			b.local(msg.Event, msg.Payload)
		}
	}
}

// SyncSummary is the payload of a sync.completed event.
type SyncSummary struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source,omitempty"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Matched    int       `json:"matched"`
	Dropped    int       `json:"dropped"`
	Written    int       `json:"written"`
	Failures   int       `json:"failures"`
	Coverage   float64   `json:"coverage"`
	FinishedAt time.Time `json:"finished_at"`
}

// SyncCompleted broadcasts a run summary.
func (b *Broker) SyncCompleted(ctx context.Context, r *ingest.Report) {
	b.Broadcast(ctx, EventSyncCompleted, SyncSummary{
		ID:         r.ID,
		Kind:       r.Kind,
		Source:     r.Source,
		Status:     r.Status,
		Total:      r.Total,
		Matched:    r.Matched,
		Dropped:    r.Dropped,
		Written:    r.Written,
		Failures:   r.Failures(),
		Coverage:   r.Coverage(),
		FinishedAt: r.FinishedAt,
	})
}

// ServeHTTP handles the SSE endpoint
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, done := b.subscribe(r.Context())
	if ch == nil {
		return
	}
	defer done()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := protojson.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Fields["event"].GetStringValue(), data)
			flusher.Flush()
		}
	}
}

// ServeWS handles the websocket endpoint. ?format=proto selects binary frames.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	binary := r.URL.Query().Get("format") == "proto"

	conn, err := websocket.Upgrade(w, r)
	if err != nil {
		zap.L().Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.StartPing(pingInterval)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		conn.Drain()
		cancel()
	}()

	ch, done := b.subscribe(ctx)
	if ch == nil {
		return
	}
	defer done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if binary {
				data, err := proto.Marshal(msg)
				if err == nil {
					err = conn.WriteBinaryMessage(data)
				}
				if err != nil {
					return
				}
				continue
			}
			data, err := protojson.Marshal(msg)
			if err == nil {
				err = conn.WriteTextMessage(data)
			}
			if err != nil {
				return
			}
		}
	}
}
