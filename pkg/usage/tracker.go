// Package usage records per-route request counts and latencies for every
// service the proxy edge forwards to, aggregating them into Redis hashes
// the way a metrics-collection sidecar would, and batches writes so a
// traffic burst doesn't turn every request into its own round trip to
// Redis.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

const (
	keyPrefix   = "usage:"
	servicesKey = keyPrefix + "services"
	metaKey     = keyPrefix + "meta"

	minFlushInterval = time.Second
)

// record is one completed request, captured cheaply off the hot path and
// folded into the aggregate hashes at the next flush.
type record struct {
	service    string
	method     string
	endpoint   string
	statusCode int
	durationMs float64
	at         time.Time
}

// Tracker buffers Record calls in memory and periodically flushes them
// into Redis hash-aggregated counters, matching the Usage Counter's key
// contract: usage:<service>:<method>:<endpoint>.
type Tracker struct {
	kv     *kvstore.Store
	logger *slog.Logger

	batchSize int
	interval  time.Duration

	mu  sync.Mutex
	buf []record
}

// New builds a Tracker. batchSize triggers an immediate flush once the
// buffer reaches it; interval is the periodic flush cadence run from Run.
// Both are floored so a zero or negative config value can't spin the
// flush loop.
func New(kv *kvstore.Store, batchSize int, interval time.Duration, logger *slog.Logger) *Tracker {
	if batchSize < 1 {
		batchSize = 1
	}
	if interval < minFlushInterval {
		interval = minFlushInterval
	}
	return &Tracker{kv: kv, logger: logger, batchSize: batchSize, interval: interval}
}

// excludedPrefixes are routes that would otherwise pollute usage data with
// infrastructure noise (health checks, metrics scraping, usage reporting
// itself).
var excludedPrefixes = []string{"/health", "/metrics", "/usage"}

// Excluded reports whether path should be skipped from usage tracking.
func Excluded(path string) bool {
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Record buffers one completed request. It never blocks on Redis and
// never returns an error: usage accounting must not affect the request
// it's observing. The buffer is flushed immediately once it reaches
// batchSize, otherwise it waits for the next Run tick.
func (t *Tracker) Record(service, method, endpoint string, statusCode int, duration time.Duration, at time.Time) {
	t.mu.Lock()
	t.buf = append(t.buf, record{
		service:    service,
		method:     method,
		endpoint:   normalizeEndpoint(endpoint),
		statusCode: statusCode,
		durationMs: float64(duration.Microseconds()) / 1000,
		at:         at,
	})
	full := len(t.buf) >= t.batchSize
	t.mu.Unlock()

	if full {
		t.flush(context.Background())
	}
}

// Run flushes the buffer on a ticker until ctx is cancelled, and flushes
// once more on the way out so a shutdown doesn't drop a partial batch.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.flush(context.Background())
			return
		case <-ticker.C:
			t.flush(ctx)
		}
	}
}

func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.buf
	t.buf = nil
	t.mu.Unlock()

	for _, r := range batch {
		if err := t.apply(ctx, r); err != nil {
			t.logger.Warn("usage: recording request failed", "service", r.service, "endpoint", r.endpoint, "error", err)
		}
	}
}

func (t *Tracker) apply(ctx context.Context, r record) error {
	endpointKey := fmt.Sprintf("%s%s:%s:%s", keyPrefix, r.service, r.method, r.endpoint)
	atStr := r.at.UTC().Format(time.RFC3339)
	success := r.statusCode >= 200 && r.statusCode < 400

	if _, err := t.kv.HSetNX(ctx, endpointKey, "service", r.service); err != nil {
		return err
	}
	if _, err := t.kv.HSetNX(ctx, endpointKey, "method", r.method); err != nil {
		return err
	}
	if _, err := t.kv.HSetNX(ctx, endpointKey, "endpoint", r.endpoint); err != nil {
		return err
	}
	if _, err := t.kv.HSetNX(ctx, endpointKey, "first_accessed", atStr); err != nil {
		return err
	}

	if _, err := t.kv.HIncrBy(ctx, endpointKey, "request_count", 1); err != nil {
		return err
	}
	if success {
		if _, err := t.kv.HIncrBy(ctx, endpointKey, "success_count", 1); err != nil {
			return err
		}
	} else {
		if _, err := t.kv.HIncrBy(ctx, endpointKey, "error_count", 1); err != nil {
			return err
		}
	}
	if _, err := t.kv.HIncrBy(ctx, endpointKey, "status:"+strconv.Itoa(r.statusCode), 1); err != nil {
		return err
	}
	if _, err := t.kv.HIncrByFloat(ctx, endpointKey, "total_response_time_ms", r.durationMs); err != nil {
		return err
	}
	if err := t.kv.HSet(ctx, endpointKey, map[string]any{"last_accessed": atStr}); err != nil {
		return err
	}
	if err := t.updateExtreme(ctx, endpointKey, "min_response_time_ms", r.durationMs, lower); err != nil {
		return err
	}
	if err := t.updateExtreme(ctx, endpointKey, "max_response_time_ms", r.durationMs, higher); err != nil {
		return err
	}

	if err := t.kv.SAdd(ctx, servicesKey, r.service); err != nil {
		return err
	}
	endpointsKey := fmt.Sprintf("%s%s:endpoints", keyPrefix, r.service)
	if err := t.kv.SAdd(ctx, endpointsKey, endpointKey); err != nil {
		return err
	}

	serviceKey := serviceKey(r.service)
	if _, err := t.kv.HIncrBy(ctx, serviceKey, "total_requests", 1); err != nil {
		return err
	}
	if success {
		if _, err := t.kv.HIncrBy(ctx, serviceKey, "total_successes", 1); err != nil {
			return err
		}
	} else {
		if _, err := t.kv.HIncrBy(ctx, serviceKey, "total_errors", 1); err != nil {
			return err
		}
	}
	if _, err := t.kv.HIncrByFloat(ctx, serviceKey, "total_response_time_ms", r.durationMs); err != nil {
		return err
	}
	if err := t.kv.HSet(ctx, serviceKey, map[string]any{"last_updated": atStr}); err != nil {
		return err
	}

	if _, err := t.kv.HSetNX(ctx, metaKey, "collection_started", atStr); err != nil {
		return err
	}
	return t.kv.HSet(ctx, metaKey, map[string]any{"last_updated": atStr})
}

const (
	lower  = true
	higher = false
)

// updateExtreme sets field to value if no prior value exists, or if value
// is more extreme (lower for min, higher for max) than what's recorded.
// Plain read-compare-write: the worst case under a race is a slightly
// stale extreme, not a corrupt counter, so this is not made atomic the way
// the HIncrBy request counters are.
func (t *Tracker) updateExtreme(ctx context.Context, key, field string, value float64, wantLower bool) error {
	current, err := t.kv.HGet(ctx, key, field)
	if err == kvstore.ErrNotFound {
		_, err := t.kv.HSetNX(ctx, key, field, formatMs(value))
		return err
	}
	if err != nil {
		return err
	}

	parsed, err := strconv.ParseFloat(current, 64)
	if err != nil {
		parsed = value
	}
	if (wantLower && value < parsed) || (!wantLower && value > parsed) {
		return t.kv.HSet(ctx, key, map[string]any{field: formatMs(value)})
	}
	return nil
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func serviceKey(service string) string {
	return fmt.Sprintf("%s%s:summary", keyPrefix, service)
}

// normalizeEndpoint turns a request path into the spec's underscored
// endpoint form: leading/trailing slashes trimmed, interior slashes
// joined with underscores, so "/networks/abc123/snapshots" becomes
// "networks_abc123_snapshots". Path IDs are kept, so the same route with
// different IDs is counted under different endpoints.
func normalizeEndpoint(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	return strings.ReplaceAll(trimmed, "/", "_")
}
