package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Aggregator assembles TopologySnapshots for one or more networks and
// caches the most recent snapshot per network for immediate answerability.
type Aggregator struct {
	upstreams Upstreams
	logger    *slog.Logger
	sink      EventSink

	mu      sync.RWMutex
	lastByNetwork map[string]*TopologySnapshot
}

// New builds an Aggregator over the given upstream fetchers.
func New(upstreams Upstreams, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		upstreams:     upstreams,
		logger:        logger,
		lastByNetwork: make(map[string]*TopologySnapshot),
	}
}

// SetSink attaches the live-event sink Generate reports per-device
// observations and status transitions to. Not a constructor argument so
// existing callers that build an Aggregator before its sink exists (the
// composition root wires the sink back in once the consumer is built)
// don't need to change.
func (a *Aggregator) SetSink(sink EventSink) {
	a.sink = sink
}

// Last returns the most recently generated snapshot for a network, or nil
// if none has been generated yet.
func (a *Aggregator) Last(networkID string) *TopologySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastByNetwork[networkID]
}

// Generate fetches inputs for networkID in parallel and assembles a fresh
// TopologySnapshot. Returns nil, nil if the network has no layout yet (an
// expected condition, not an error).
func (a *Aggregator) Generate(ctx context.Context, networkID string) (*TopologySnapshot, error) {
	var (
		layout     *Layout
		health     map[string]HealthRecord
		gatewayIPs map[string][]TestIPMetrics
		speedTests map[string]SpeedTestMetrics
	)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		l, err := a.upstreams.Layout.FetchLayout(ctx, networkID)
		if err != nil {
			a.logger.Warn("snapshot: fetching layout", "network_id", networkID, "error", err)
			return
		}
		layout = l
	}()

	go func() {
		defer wg.Done()
		h, err := a.upstreams.Health.FetchHealthMetrics(ctx, networkID)
		if err != nil {
			a.logger.Warn("snapshot: fetching health metrics", "network_id", networkID, "error", err)
			return
		}
		health = h
	}()

	go func() {
		defer wg.Done()
		g, err := a.upstreams.GatewayIPs.FetchGatewayTestIPs(ctx, networkID)
		if err != nil {
			a.logger.Warn("snapshot: fetching gateway test ips", "network_id", networkID, "error", err)
			return
		}
		gatewayIPs = g
	}()

	go func() {
		defer wg.Done()
		s, err := a.upstreams.SpeedTests.FetchSpeedTestResults(ctx, networkID)
		if err != nil {
			a.logger.Warn("snapshot: fetching speed test results", "network_id", networkID, "error", err)
			return
		}
		speedTests = s
	}()

	wg.Wait()

	if layout == nil || layout.Root.ID == "" {
		return nil, nil
	}

	prior := a.Last(networkID)
	nodes, connections, rootID := processTree(networkID, layout.Root, health, gatewayIPs, speedTests, prior, a.sink)

	snapshot := &TopologySnapshot{
		SnapshotID:  uuid.NewString(),
		NetworkID:   networkID,
		RootNodeID:  rootID,
		Nodes:       nodes,
		Connections: connections,
	}
	countStatuses(snapshot, rootID)
	snapshot.Gateways = collectGateways(nodes)

	a.mu.Lock()
	a.lastByNetwork[networkID] = snapshot
	a.mu.Unlock()

	return snapshot, nil
}

// processTree traverses the layout breadth-first, merging each node with
// its health record. If prior carried notes for a node id that the fresh
// layout lost, those notes are preserved. Each node with an IP is also
// reported to sink: a raw observation for anomaly training, and — if its
// status differs from the node's status in prior — a status transition
// for the notification pipeline.
func processTree(networkID string, root LayoutNode, health map[string]HealthRecord, gatewayIPs map[string][]TestIPMetrics, speedTests map[string]SpeedTestMetrics, prior *TopologySnapshot, sink EventSink) (map[string]NodeMetrics, []NodeConnection, string) {
	type queued struct {
		node     LayoutNode
		depth    int
		parentID string
	}

	nodes := make(map[string]NodeMetrics)
	var connections []NodeConnection
	now := time.Now().UTC()

	queue := []queued{{node: root, depth: 0}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		nm := buildNodeMetrics(item.node, item.depth, item.parentID, health, gatewayIPs, speedTests)

		var priorStatus HealthStatus
		var hadPrior bool
		if prior != nil {
			if existing, ok := prior.Nodes[nm.ID]; ok {
				priorStatus, hadPrior = existing.Status, true
				if existing.Notes != "" && nm.Notes == "" {
					nm.Notes = existing.Notes
				}
			}
		}

		if sink != nil && nm.IP != "" {
			reportDevice(sink, networkID, nm, priorStatus, hadPrior, now)
		}

		nodes[nm.ID] = nm

		if item.parentID != "" {
			connections = append(connections, NodeConnection{
				SourceID:        item.parentID,
				TargetID:        nm.ID,
				ConnectionSpeed: nm.ConnectionSpeed,
			})
		}

		for _, child := range item.node.Children {
			queue = append(queue, queued{node: child, depth: item.depth + 1, parentID: nm.ID})
		}
	}

	return nodes, connections, root.ID
}

func buildNodeMetrics(node LayoutNode, depth int, parentID string, health map[string]HealthRecord, gatewayIPs map[string][]TestIPMetrics, speedTests map[string]SpeedTestMetrics) NodeMetrics {
	var rec HealthRecord
	if node.IP != "" {
		rec = health[node.IP]
	}

	role := ParseDeviceRole(node.Role)

	nm := NodeMetrics{
		ID:                node.ID,
		Name:              node.Name,
		IP:                node.IP,
		Hostname:          node.Hostname,
		Role:              role,
		ParentID:          parentID,
		ConnectionSpeed:   node.ConnectionSpeed,
		Depth:             depth,
		Status:            orUnknown(rec.Status),
		Ping:              rec.Ping,
		Notes:             node.Notes,
		MonitoringEnabled: node.MonitoringEnabled,
	}

	if role == RoleGatewayRouter && node.IP != "" {
		testIPs := gatewayIPs[node.IP]
		speedTest, hasSpeed := speedTests[node.IP]

		info := &GatewayISPInfo{GatewayIP: node.IP, TestIPs: testIPs}
		if hasSpeed {
			info.LastSpeedTest = &speedTest
		}
		nm.ISPInfo = info
	}

	return nm
}

// reportDevice sends nm's reachability sample to sink.ObserveDevice, and,
// if hadPrior and the status changed, a StatusTransition to
// sink.NotifyTransition.
func reportDevice(sink EventSink, networkID string, nm NodeMetrics, priorStatus HealthStatus, hadPrior bool, at time.Time) {
	obs := DeviceObservation{
		NetworkID: networkID,
		DeviceIP:  nm.IP,
		At:        at,
	}
	if nm.Ping != nil {
		obs.Success = nm.Ping.Success
		obs.PacketLossPct = nm.Ping.PacketLossPct
		if nm.Ping.LatencyMs != nil {
			obs.LatencyMs = *nm.Ping.LatencyMs
		} else if nm.Ping.AvgLatencyMs != nil {
			obs.LatencyMs = *nm.Ping.AvgLatencyMs
		}
	} else {
		obs.Success = nm.Status == HealthHealthy
	}
	sink.ObserveDevice(obs)

	if hadPrior && priorStatus != nm.Status {
		sink.NotifyTransition(StatusTransition{
			NetworkID:     networkID,
			DeviceIP:      nm.IP,
			DeviceName:    nm.Name,
			PreviousState: priorStatus,
			CurrentState:  nm.Status,
			At:            at,
		})
	}
}

func orUnknown(s HealthStatus) HealthStatus {
	if s == "" {
		return HealthUnknown
	}
	return s
}

// countStatuses tallies node health excluding the root node and any
// role=group node, matching the frontend's own device-flattening rules.
func countStatuses(snapshot *TopologySnapshot, rootID string) {
	for id, node := range snapshot.Nodes {
		if id == rootID || node.Role == RoleGroup {
			continue
		}
		snapshot.TotalNodes++
		switch node.Status {
		case HealthHealthy:
			snapshot.HealthyNodes++
		case HealthDegraded:
			snapshot.DegradedNodes++
		case HealthUnhealthy:
			snapshot.UnhealthyNodes++
		default:
			snapshot.UnknownNodes++
		}
	}
}

func collectGateways(nodes map[string]NodeMetrics) []GatewayISPInfo {
	var gateways []GatewayISPInfo
	for _, node := range nodes {
		if node.ISPInfo != nil {
			gateways = append(gateways, *node.ISPInfo)
		}
	}
	return gateways
}
