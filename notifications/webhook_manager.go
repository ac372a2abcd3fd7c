package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/cache"
	"evsales-dashboard/helpers"
	"evsales-dashboard/ingest"
)

// deliveredTTL bounds how long a delivery marker is kept in Redis.
const deliveredTTL = 24 * time.Hour

// Webhook is a configured sync-report endpoint.
type Webhook struct {
	URL        string
	Method     string   // defaults to POST
	AuthHeader string   // e.g. "Authorization"
	AuthValue  string   // e.g. "Bearer ..."
	Statuses   []string // only send for these run statuses; empty sends all
	RetryCount int
	RetryDelay time.Duration
}

// WebhookManager posts sync reports to configured webhooks
type WebhookManager struct {
	hooks  []Webhook
	redis  *cache.RedisClient
	client *http.Client
	wg     sync.WaitGroup
}

// WebhookPayload represents the JSON payload sent to webhooks
type WebhookPayload struct {
	RunID      string                 `json:"RunID"`
	Kind       string                 `json:"Kind"`
	Source     string                 `json:"Source,omitempty"`
	Status     string                 `json:"Status"`
	StartedAt  time.Time              `json:"StartedAt"`
	FinishedAt time.Time              `json:"FinishedAt"`
	Total      int                    `json:"Total"`
	Matched    int                    `json:"Matched"`
	Written    int                    `json:"Written"`
	Failures   int                    `json:"Failures"`
	Message    string                 `json:"Message"`
	Metadata   map[string]interface{} `json:"Metadata,omitempty"`
}

// NewWebhookManager creates a new webhook manager. redis may be nil.
func NewWebhookManager(hooks []Webhook, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		hooks: hooks,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SyncCompleted delivers the report to every matching webhook asynchronously.
func (wm *WebhookManager) SyncCompleted(ctx context.Context, report *ingest.Report) {
	if len(wm.hooks) == 0 {
		return
	}

	payloadBytes, err := json.Marshal(wm.CreatePayload(report))
	if err != nil {
		zap.L().Warn("Failed to marshal webhook payload", zap.Error(err))
		return
	}

	for _, hook := range wm.hooks {
		if !wm.shouldSend(hook, report) {
			continue
		}
		wm.wg.Add(1)
		go func(h Webhook) {
			defer wm.wg.Done()
			wm.deliverWebhook(context.WithoutCancel(ctx), h, report.ID, payloadBytes)
		}(hook)
	}
}

// Wait blocks until in-flight deliveries finish.
func (wm *WebhookManager) Wait() {
	wm.wg.Wait()
}

// CreatePayload generates the webhook payload from a report
func (wm *WebhookManager) CreatePayload(r *ingest.Report) WebhookPayload {
	// Example: "📊 SYNC SALES CPCA | PARTIAL | written 118/124 | coverage 95.2% | failures 2"
	label := r.Kind
	if r.Source != "" {
		label += " " + r.Source
	}
	message := fmt.Sprintf("📊 SYNC %s | %s | written %s/%s | coverage %.1f%% | failures %d",
		label, r.Status, helpers.FormatVolume(int64(r.Written)), helpers.FormatVolume(int64(r.Total)), r.Coverage(), r.Failures())

	meta := map[string]interface{}{
		"dropped": r.Dropped,
	}
	if len(r.Windows) > 0 {
		meta["window_failures"] = r.Windows
	}
	if len(r.Unresolved) > 0 {
		meta["unresolved"] = r.Unresolved
	}

	return WebhookPayload{
		RunID:      r.ID,
		Kind:       r.Kind,
		Source:     r.Source,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total,
		Matched:    r.Matched,
		Written:    r.Written,
		Failures:   r.Failures(),
		Message:    message,
		Metadata:   meta,
	}
}

func (wm *WebhookManager) shouldSend(hook Webhook, r *ingest.Report) bool {
	if len(hook.Statuses) == 0 {
		return true
	}
	for _, s := range hook.Statuses {
		if strings.EqualFold(s, r.Status) {
			return true
		}
	}
	return false
}

func deliveredKey(runID, url string) string {
	return "webhook:delivered:" + runID + ":" + cache.GenerateParamsHash(url)
}

func (wm *WebhookManager) deliverWebhook(ctx context.Context, hook Webhook, runID string, payload []byte) {
	// Another instance relaying the same run may have delivered already
	key := deliveredKey(runID, hook.URL)
	if wm.redis.Exists(ctx, key) {
		return
	}

	maxRetries := hook.RetryCount
	if maxRetries <= 0 {
		maxRetries = 1
	}
	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}

	var lastErr error
	statusCode := 0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "EVSales-Dashboard/1.0")
		if hook.AuthHeader != "" {
			req.Header.Set(hook.AuthHeader, hook.AuthValue)
		}

		zap.L().Debug("Sending webhook", zap.String("url", hook.URL), zap.Int("attempt", attempt), zap.Int("max", maxRetries))

		resp, err := wm.client.Do(req)
		if err == nil {
			statusCode = resp.StatusCode
			resp.Body.Close()
			if statusCode >= 200 && statusCode < 300 {
				_ = wm.redis.Set(ctx, key, time.Now(), deliveredTTL)
				zap.L().Info("Webhook delivered", zap.String("url", hook.URL), zap.String("run_id", runID))
				return
			}
			lastErr = fmt.Errorf("status %d", statusCode)
		} else {
			lastErr = err
		}

		// Wait before retry
		if attempt < maxRetries && hook.RetryDelay > 0 {
			time.Sleep(hook.RetryDelay)
		}
	}

	zap.L().Warn("Webhook delivery failed",
		zap.String("url", hook.URL),
		zap.String("run_id", runID),
		zap.Int("status_code", statusCode),
		zap.Error(lastErr))
}
