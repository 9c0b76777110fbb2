package snapshot

import (
	"context"
	"log/slog"
	"io"
	"testing"
)

type fakeLayout struct{ layout *Layout }

func (f fakeLayout) FetchLayout(context.Context, string) (*Layout, error) { return f.layout, nil }

type fakeHealth struct{ records map[string]HealthRecord }

func (f fakeHealth) FetchHealthMetrics(context.Context, string) (map[string]HealthRecord, error) {
	return f.records, nil
}

type fakeGateways struct{}

func (fakeGateways) FetchGatewayTestIPs(context.Context, string) (map[string][]TestIPMetrics, error) {
	return nil, nil
}

type fakeSpeedTests struct{}

func (fakeSpeedTests) FetchSpeedTestResults(context.Context, string) (map[string]SpeedTestMetrics, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	observations []DeviceObservation
	transitions  []StatusTransition
}

func (f *fakeSink) ObserveDevice(obs DeviceObservation) {
	f.observations = append(f.observations, obs)
}

func (f *fakeSink) NotifyTransition(t StatusTransition) {
	f.transitions = append(f.transitions, t)
}

func TestGenerateExcludesRootAndGroupFromCounts(t *testing.T) {
	layout := &Layout{
		Root: LayoutNode{
			ID:   "root",
			Role: "group",
			Children: []LayoutNode{
				{ID: "switch-1", IP: "10.0.0.1", Role: "switch/ap"},
				{ID: "group-1", Role: "group", Children: []LayoutNode{
					{ID: "client-1", IP: "10.0.0.2", Role: "client"},
				}},
			},
		},
	}

	health := map[string]HealthRecord{
		"10.0.0.1": {Status: HealthHealthy},
		"10.0.0.2": {Status: HealthDegraded},
	}

	agg := New(Upstreams{
		Layout:     fakeLayout{layout: layout},
		Health:     fakeHealth{records: health},
		GatewayIPs: fakeGateways{},
		SpeedTests: fakeSpeedTests{},
	}, testLogger())

	snap, err := agg.Generate(context.Background(), "net-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if snap == nil {
		t.Fatal("Generate returned nil snapshot")
	}

	// 4 total tree nodes (root, switch-1, group-1, client-1); excluding
	// root and the two group-role nodes leaves only switch-1 and client-1.
	if snap.TotalNodes != 2 {
		t.Fatalf("TotalNodes = %d, want 2", snap.TotalNodes)
	}
	if snap.HealthyNodes != 1 || snap.DegradedNodes != 1 {
		t.Fatalf("healthy=%d degraded=%d, want 1/1", snap.HealthyNodes, snap.DegradedNodes)
	}
}

func TestGenerateReturnsNilWithoutLayout(t *testing.T) {
	agg := New(Upstreams{
		Layout:     fakeLayout{layout: nil},
		Health:     fakeHealth{},
		GatewayIPs: fakeGateways{},
		SpeedTests: fakeSpeedTests{},
	}, testLogger())

	snap, err := agg.Generate(context.Background(), "net-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}
}

func TestGeneratePreservesNotesFromPrior(t *testing.T) {
	layout := &Layout{Root: LayoutNode{ID: "root", IP: "10.0.0.1"}}
	upstreams := Upstreams{
		Layout:     fakeLayout{layout: layout},
		Health:     fakeHealth{},
		GatewayIPs: fakeGateways{},
		SpeedTests: fakeSpeedTests{},
	}
	agg := New(upstreams, testLogger())

	first, err := agg.Generate(context.Background(), "net-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	node := first.Nodes["root"]
	node.Notes = "manually annotated"
	first.Nodes["root"] = node

	agg.mu.Lock()
	agg.lastByNetwork["net-1"] = first
	agg.mu.Unlock()

	second, err := agg.Generate(context.Background(), "net-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if second.Nodes["root"].Notes != "manually annotated" {
		t.Fatalf("notes = %q, want preserved note", second.Nodes["root"].Notes)
	}
}

func TestGenerateReportsDeviceObservationsToSink(t *testing.T) {
	layout := &Layout{Root: LayoutNode{
		ID: "root", Role: "group",
		Children: []LayoutNode{{ID: "switch-1", IP: "10.0.0.1", Role: "switch/ap"}},
	}}
	health := map[string]HealthRecord{
		"10.0.0.1": {Status: HealthHealthy, Ping: &PingMetrics{Success: true, PacketLossPct: 0}},
	}

	agg := New(Upstreams{
		Layout:     fakeLayout{layout: layout},
		Health:     fakeHealth{records: health},
		GatewayIPs: fakeGateways{},
		SpeedTests: fakeSpeedTests{},
	}, testLogger())

	sink := &fakeSink{}
	agg.SetSink(sink)

	if _, err := agg.Generate(context.Background(), "net-1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(sink.observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(sink.observations))
	}
	if sink.observations[0].DeviceIP != "10.0.0.1" || !sink.observations[0].Success {
		t.Fatalf("unexpected observation: %+v", sink.observations[0])
	}
	if len(sink.transitions) != 0 {
		t.Fatalf("expected no transitions on a device's first observation, got %d", len(sink.transitions))
	}
}

func TestGenerateReportsStatusTransitionToSink(t *testing.T) {
	layout := &Layout{Root: LayoutNode{
		ID: "root", Role: "group",
		Children: []LayoutNode{{ID: "switch-1", IP: "10.0.0.1", Role: "switch/ap"}},
	}}
	upstreams := Upstreams{
		Layout:     fakeLayout{layout: layout},
		GatewayIPs: fakeGateways{},
		SpeedTests: fakeSpeedTests{},
	}

	agg := New(upstreams, testLogger())
	sink := &fakeSink{}
	agg.SetSink(sink)

	agg.upstreams.Health = fakeHealth{records: map[string]HealthRecord{"10.0.0.1": {Status: HealthHealthy}}}
	if _, err := agg.Generate(context.Background(), "net-1"); err != nil {
		t.Fatalf("Generate (first cycle): %v", err)
	}
	if len(sink.transitions) != 0 {
		t.Fatalf("expected no transition on the first cycle, got %d", len(sink.transitions))
	}

	agg.upstreams.Health = fakeHealth{records: map[string]HealthRecord{"10.0.0.1": {Status: HealthUnhealthy}}}
	if _, err := agg.Generate(context.Background(), "net-1"); err != nil {
		t.Fatalf("Generate (second cycle): %v", err)
	}

	if len(sink.transitions) != 1 {
		t.Fatalf("expected 1 transition after a status change, got %d", len(sink.transitions))
	}
	transition := sink.transitions[0]
	if transition.PreviousState != HealthHealthy || transition.CurrentState != HealthUnhealthy {
		t.Fatalf("unexpected transition: %+v", transition)
	}
	if transition.DeviceIP != "10.0.0.1" {
		t.Fatalf("expected transition for 10.0.0.1, got %+v", transition)
	}
}
