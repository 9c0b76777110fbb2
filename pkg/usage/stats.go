package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EndpointUsage is the aggregated usage for one service/method/endpoint
// triple.
type EndpointUsage struct {
	Service             string           `json:"service"`
	Method              string           `json:"method"`
	Endpoint            string           `json:"endpoint"`
	RequestCount        int64            `json:"request_count"`
	SuccessCount        int64            `json:"success_count"`
	ErrorCount          int64            `json:"error_count"`
	AvgResponseTimeMs   *float64         `json:"avg_response_time_ms,omitempty"`
	MinResponseTimeMs   *float64         `json:"min_response_time_ms,omitempty"`
	MaxResponseTimeMs   *float64         `json:"max_response_time_ms,omitempty"`
	StatusCodes         map[string]int64 `json:"status_codes,omitempty"`
	FirstAccessed       *time.Time       `json:"first_accessed,omitempty"`
	LastAccessed        *time.Time       `json:"last_accessed,omitempty"`
}

// ServiceSummary aggregates usage across every endpoint of one service.
type ServiceSummary struct {
	Service           string          `json:"service"`
	TotalRequests     int64           `json:"total_requests"`
	TotalSuccesses    int64           `json:"total_successes"`
	TotalErrors       int64           `json:"total_errors"`
	AvgResponseTimeMs *float64        `json:"avg_response_time_ms,omitempty"`
	LastUpdated       *time.Time      `json:"last_updated,omitempty"`
	Endpoints         []EndpointUsage `json:"endpoints,omitempty"`
}

// StatsResponse is the usage report returned by Stats, scoped to one
// service or covering every service that has ever recorded a request.
type StatsResponse struct {
	TotalServices     int                       `json:"total_services"`
	TotalRequests     int64                     `json:"total_requests"`
	CollectionStarted *time.Time                `json:"collection_started,omitempty"`
	LastUpdated       *time.Time                `json:"last_updated,omitempty"`
	Services          map[string]ServiceSummary `json:"services"`
}

// Stats reads the aggregated usage report. service scopes the report to
// one service; empty returns every tracked service.
func (t *Tracker) Stats(ctx context.Context, service string) (StatsResponse, error) {
	resp := StatsResponse{Services: make(map[string]ServiceSummary)}

	meta, err := t.kv.HGetAll(ctx, metaKey)
	if err != nil {
		return resp, fmt.Errorf("usage: reading metadata: %w", err)
	}
	resp.CollectionStarted = parseUsageTime(meta["collection_started"])
	resp.LastUpdated = parseUsageTime(meta["last_updated"])

	var services []string
	if service != "" {
		isMember, err := t.kv.SIsMember(ctx, servicesKey, service)
		if err != nil {
			return resp, fmt.Errorf("usage: checking service membership: %w", err)
		}
		if isMember {
			services = []string{service}
		}
	} else {
		services, err = t.kv.SMembers(ctx, servicesKey)
		if err != nil {
			return resp, fmt.Errorf("usage: listing services: %w", err)
		}
	}
	resp.TotalServices = len(services)

	for _, svc := range services {
		summary, err := t.serviceSummary(ctx, svc)
		if err != nil {
			t.logger.Warn("usage: reading service summary failed", "service", svc, "error", err)
			continue
		}
		resp.Services[svc] = summary
		resp.TotalRequests += summary.TotalRequests
	}

	return resp, nil
}

func (t *Tracker) serviceSummary(ctx context.Context, service string) (ServiceSummary, error) {
	data, err := t.kv.HGetAll(ctx, serviceKey(service))
	if err != nil {
		return ServiceSummary{}, err
	}
	summary := ServiceSummary{
		Service:        service,
		TotalRequests:  parseUsageInt(data["total_requests"]),
		TotalSuccesses: parseUsageInt(data["total_successes"]),
		TotalErrors:    parseUsageInt(data["total_errors"]),
		LastUpdated:    parseUsageTime(data["last_updated"]),
	}
	if summary.TotalRequests > 0 {
		avg := parseUsageFloat(data["total_response_time_ms"]) / float64(summary.TotalRequests)
		summary.AvgResponseTimeMs = &avg
	}

	endpointKeys, err := t.kv.SMembers(ctx, fmt.Sprintf("%s%s:endpoints", keyPrefix, service))
	if err != nil {
		return summary, err
	}
	for _, key := range endpointKeys {
		ep, ok, err := t.endpointUsage(ctx, key)
		if err != nil {
			t.logger.Warn("usage: reading endpoint usage failed", "key", key, "error", err)
			continue
		}
		if ok {
			summary.Endpoints = append(summary.Endpoints, ep)
		}
	}
	sort.Slice(summary.Endpoints, func(i, j int) bool {
		return summary.Endpoints[i].RequestCount > summary.Endpoints[j].RequestCount
	})

	return summary, nil
}

func (t *Tracker) endpointUsage(ctx context.Context, key string) (EndpointUsage, bool, error) {
	data, err := t.kv.HGetAll(ctx, key)
	if err != nil {
		return EndpointUsage{}, false, err
	}
	if len(data) == 0 {
		return EndpointUsage{}, false, nil
	}

	requestCount := parseUsageInt(data["request_count"])
	ep := EndpointUsage{
		Service:       data["service"],
		Method:        data["method"],
		Endpoint:      data["endpoint"],
		RequestCount:  requestCount,
		SuccessCount:  parseUsageInt(data["success_count"]),
		ErrorCount:    parseUsageInt(data["error_count"]),
		FirstAccessed: parseUsageTime(data["first_accessed"]),
		LastAccessed:  parseUsageTime(data["last_accessed"]),
	}
	if requestCount > 0 {
		avg := parseUsageFloat(data["total_response_time_ms"]) / float64(requestCount)
		ep.AvgResponseTimeMs = &avg
	}
	if v, ok := data["min_response_time_ms"]; ok {
		f := parseUsageFloat(v)
		ep.MinResponseTimeMs = &f
	}
	if v, ok := data["max_response_time_ms"]; ok {
		f := parseUsageFloat(v)
		ep.MaxResponseTimeMs = &f
	}
	for k, v := range data {
		if code, ok := strings.CutPrefix(k, "status:"); ok {
			if ep.StatusCodes == nil {
				ep.StatusCodes = make(map[string]int64)
			}
			ep.StatusCodes[code] = parseUsageInt(v)
		}
	}

	return ep, true, nil
}

func parseUsageInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseUsageFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseUsageTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &parsed
}
