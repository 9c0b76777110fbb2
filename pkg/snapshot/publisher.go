package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

const (
	// ChannelTopology is the pub/sub channel topology snapshots are
	// broadcast on.
	ChannelTopology = "metrics:topology"

	lastSnapshotKeyPrefix = "metrics:last_snapshot:"
	lastSnapshotTTL       = time.Hour

	minPublishInterval = 5 * time.Second
)

// busEvent is the envelope every bus message shares, regardless of origin.
type busEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NetworkLister enumerates known networks for multi-tenant fan-out.
type NetworkLister interface {
	ListNetworkIDs(ctx context.Context) ([]string, error)
}

// Publisher drives a single-process, cooperative publish loop: one
// initial synchronous snapshot per network at startup, then a ticker loop
// guarded against overlapping cycles.
type Publisher struct {
	aggregator *Aggregator
	networks   NetworkLister
	kv         *kvstore.Store
	logger     *slog.Logger
	interval   time.Duration
	publishing atomic.Bool
	running    atomic.Bool
	enabled    atomic.Bool
}

// NewPublisher builds a Publisher. interval is clamped to a 5s floor.
// Publishing starts enabled.
func NewPublisher(aggregator *Aggregator, networks NetworkLister, kv *kvstore.Store, logger *slog.Logger, interval time.Duration) *Publisher {
	if interval < minPublishInterval {
		interval = minPublishInterval
	}
	p := &Publisher{
		aggregator: aggregator,
		networks:   networks,
		kv:         kv,
		logger:     logger,
		interval:   interval,
	}
	p.enabled.Store(true)
	return p
}

// SetInterval changes the publish interval for subsequent cycles (clamped
// to the 5s floor).
func (p *Publisher) SetInterval(d time.Duration) {
	if d < minPublishInterval {
		d = minPublishInterval
	}
	p.interval = d
}

// SetEnabled turns the ticking publish loop on or off without tearing down
// Run's goroutine. Disabling skips cycles; PublishAllOnce still works
// on-demand regardless of this flag.
func (p *Publisher) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

// Config reports the Publisher's current runtime configuration.
type Config struct {
	IntervalSeconds float64 `json:"interval_seconds"`
	PublishingEnabled bool  `json:"publishing_enabled"`
}

// GetConfig returns the Publisher's current runtime configuration.
func (p *Publisher) GetConfig() Config {
	return Config{
		IntervalSeconds:   p.interval.Seconds(),
		PublishingEnabled: p.enabled.Load(),
	}
}

// PublishAllOnce runs a single publish cycle across every known network,
// falling back to a single legacy-mode network if none are registered.
func (p *Publisher) PublishAllOnce(ctx context.Context) {
	ids, err := p.networks.ListNetworkIDs(ctx)
	if err != nil {
		p.logger.Error("snapshot: listing networks", "error", err)
		return
	}
	if len(ids) == 0 {
		ids = []string{"legacy"}
	}

	for _, id := range ids {
		p.publishOne(ctx, id)
	}
}

func (p *Publisher) publishOne(ctx context.Context, networkID string) {
	snap, err := p.aggregator.Generate(ctx, networkID)
	if err != nil {
		p.logger.Error("snapshot: generating snapshot", "network_id", networkID, "error", err)
		return
	}
	if snap == nil {
		p.logger.Debug("snapshot: no layout available, skipping", "network_id", networkID)
		return
	}

	snap.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("snapshot: encoding snapshot", "network_id", networkID, "error", err)
		return
	}

	event, err := json.Marshal(busEvent{Type: "topology_update", Timestamp: snap.Timestamp, Payload: json.RawMessage(payload)})
	if err != nil {
		p.logger.Error("snapshot: encoding bus event", "network_id", networkID, "error", err)
		return
	}

	if err := p.kv.Publish(ctx, ChannelTopology, event); err != nil {
		p.logger.Warn("snapshot: publishing to bus", "network_id", networkID, "error", err)
	}

	if err := p.kv.Set(ctx, lastSnapshotKeyPrefix+networkID, string(payload), lastSnapshotTTL); err != nil {
		p.logger.Warn("snapshot: caching last snapshot", "network_id", networkID, "error", err)
	}
}

// Run generates an initial snapshot synchronously (so /snapshot is
// answerable immediately) then loops on the configured interval until ctx
// is cancelled. A re-entrancy flag skips a cycle if the previous one is
// still running.
func (p *Publisher) Run(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("snapshot: publish loop already running")
		return
	}
	defer p.running.Store(false)

	p.PublishAllOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.enabled.Load() {
				continue
			}
			if !p.publishing.CompareAndSwap(false, true) {
				p.logger.Debug("snapshot: previous publish cycle still running, skipping")
				continue
			}
			p.PublishAllOnce(ctx)
			p.publishing.Store(false)
			ticker.Reset(p.interval)
		}
	}
}
