package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPUpstreams fetches layout, health, gateway-probe, and speed-test data
// from the downstream collector services over plain HTTP GET, each request
// scoped to its own network. Mirrors the proxy edge's pooled http.Client
// idiom rather than opening a fresh connection per call.
type HTTPUpstreams struct {
	client            *http.Client
	backendServiceURL string
	healthServiceURL  string
}

// NewHTTPUpstreams builds the four fetchers the aggregator fans out to,
// sharing one pooled client across all of them.
func NewHTTPUpstreams(backendServiceURL, healthServiceURL string) Upstreams {
	h := &HTTPUpstreams{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		backendServiceURL: backendServiceURL,
		healthServiceURL:  healthServiceURL,
	}
	return Upstreams{
		Layout:     h,
		Health:     h,
		GatewayIPs: h,
		SpeedTests: h,
	}
}

func (h *HTTPUpstreams) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("snapshot: building request for %s: %w", url, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("snapshot: calling %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("snapshot: %s returned HTTP %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("snapshot: decoding response from %s: %w", url, err)
	}
	return nil
}

// FetchLayout retrieves the saved device layout for a network.
func (h *HTTPUpstreams) FetchLayout(ctx context.Context, networkID string) (*Layout, error) {
	var layout Layout
	url := fmt.Sprintf("%s/internal/networks/%s/layout", h.backendServiceURL, networkID)
	if err := h.getJSON(ctx, url, &layout); err != nil {
		return nil, err
	}
	return &layout, nil
}

// FetchHealthMetrics retrieves the latest cached health reading per device IP.
func (h *HTTPUpstreams) FetchHealthMetrics(ctx context.Context, networkID string) (map[string]HealthRecord, error) {
	records := make(map[string]HealthRecord)
	url := fmt.Sprintf("%s/internal/networks/%s/health", h.healthServiceURL, networkID)
	if err := h.getJSON(ctx, url, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FetchGatewayTestIPs retrieves gateway probe-IP metrics keyed by gateway IP.
func (h *HTTPUpstreams) FetchGatewayTestIPs(ctx context.Context, networkID string) (map[string][]TestIPMetrics, error) {
	ips := make(map[string][]TestIPMetrics)
	url := fmt.Sprintf("%s/internal/networks/%s/gateway-test-ips", h.healthServiceURL, networkID)
	if err := h.getJSON(ctx, url, &ips); err != nil {
		return nil, err
	}
	return ips, nil
}

// FetchSpeedTestResults retrieves the latest stored speed-test result per gateway IP.
func (h *HTTPUpstreams) FetchSpeedTestResults(ctx context.Context, networkID string) (map[string]SpeedTestMetrics, error) {
	results := make(map[string]SpeedTestMetrics)
	url := fmt.Sprintf("%s/internal/networks/%s/speed-tests", h.healthServiceURL, networkID)
	if err := h.getJSON(ctx, url, &results); err != nil {
		return nil, err
	}
	return results, nil
}
