package snapshot

import "context"

// LayoutFetcher fetches a tenant's saved device layout.
type LayoutFetcher interface {
	FetchLayout(ctx context.Context, networkID string) (*Layout, error)
}

// HealthFetcher fetches cached per-device health readings, keyed by IP.
type HealthFetcher interface {
	FetchHealthMetrics(ctx context.Context, networkID string) (map[string]HealthRecord, error)
}

// GatewayTestIPFetcher fetches gateway probe-IP metrics, keyed by gateway IP.
type GatewayTestIPFetcher interface {
	FetchGatewayTestIPs(ctx context.Context, networkID string) (map[string][]TestIPMetrics, error)
}

// SpeedTestFetcher fetches the latest stored speed-test result per gateway IP.
type SpeedTestFetcher interface {
	FetchSpeedTestResults(ctx context.Context, networkID string) (map[string]SpeedTestMetrics, error)
}

// Upstreams bundles the four data sources a publish cycle fans out to.
// Any fetcher returning an error degrades that input to empty/nil rather
// than failing the whole cycle — a network with an unreachable health
// service still gets a snapshot, just with unknown-status nodes.
type Upstreams struct {
	Layout      LayoutFetcher
	Health      HealthFetcher
	GatewayIPs  GatewayTestIPFetcher
	SpeedTests  SpeedTestFetcher
}
