// Package loadmanager implements the Load Manager (spec component D):
// per-node live telemetry, in-flight accounting, the worker-selection
// policy, the warm-up admission queue, and the 60-minute request
// histogram.
package loadmanager

import (
	"sync"
	"time"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
)

// staleAfter is the age past which a node's last metrics sample is no
// longer trusted by the selection algorithm.
const staleAfter = 120 * time.Second

// historyCap bounds each node's metrics history ring (spec §9: fixed cap,
// FIFO eviction, never unbounded).
const historyCap = 360

// NodeLister is the subset of the registry the Load Manager needs: the
// Online node set plus each node's loaded-model set and GPU capability
// facts for the selection algorithm.
type NodeLister interface {
	List() []model.Node
}

// Outcome is the terminal result of one proxied request, used for both
// accounting and the request histogram.
type Outcome int

const (
	Success Outcome = iota
	Error
	Queued
)

// AgentLoadState is the per-node live state the Load Manager owns. It is
// never persisted; a node's identity outlives transient offline periods
// but this struct holds no strong reference to it.
type AgentLoadState struct {
	Last            *model.HealthMetrics
	AssignedActive  int64
	TotalAssigned   int64
	SuccessCount    int64
	ErrorCount      int64
	LatencySumMs    float64
	History         []model.HealthMetrics
	Initializing    bool
	ReadyModels     model.ReadyModels
	HeartbeatActive int
	HeartbeatAvgMs  *float64
}

func (s *AgentLoadState) combinedActive() int64 {
	return int64(s.HeartbeatActive) + s.AssignedActive
}

func (s *AgentLoadState) effectiveAvgMs() float64 {
	if s.HeartbeatAvgMs != nil {
		return *s.HeartbeatAvgMs
	}
	completed := s.SuccessCount + s.ErrorCount
	if completed == 0 {
		return 0
	}
	return s.LatencySumMs / float64(completed)
}

func (s *AgentLoadState) isStale(now time.Time) bool {
	if s.Last == nil {
		return true
	}
	return now.Sub(s.Last.Timestamp) >= staleAfter
}

func (s *AgentLoadState) specScore() int64 {
	if s.Last != nil && s.Last.GPUCapabilityScore != nil {
		return *s.Last.GPUCapabilityScore
	}
	return 0
}

// Manager is the Load Manager: a single reader-writer lock over the
// per-node state table, a monotonic round-robin counter, the bounded
// request histogram, and the warm-up admission queue.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*AgentLoadState
	rr     uint64 // atomic

	registry NodeLister

	waiterCount int64 // atomic
	maxWaiters  int

	readyMu   sync.Mutex
	readyChan chan struct{}

	history   []model.RequestHistoryPoint
	historyMu sync.Mutex

	now func() time.Time
}

// New creates a Manager bound to registry (for selection's Online-node
// view) with the admission queue bounded at maxWaiters.
func New(registry NodeLister, maxWaiters int) *Manager {
	if maxWaiters <= 0 {
		maxWaiters = 1024
	}
	return &Manager{
		states:     make(map[string]*AgentLoadState),
		registry:   registry,
		maxWaiters: maxWaiters,
		readyChan:  make(chan struct{}),
		now:        time.Now,
	}
}

func (m *Manager) nodeExists(nodeID string) bool {
	for _, n := range m.registry.List() {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}

func (m *Manager) stateFor(nodeID string) *AgentLoadState {
	s, ok := m.states[nodeID]
	if !ok {
		s = &AgentLoadState{}
		m.states[nodeID] = s
	}
	return s
}

// RecordMetrics ingests one heartbeat sample, updating the bounded history
// and warm-up flags. When the node just transitioned out of Initializing,
// all current admission-queue waiters are notified.
func (m *Manager) RecordMetrics(nodeID string, hb model.HeartbeatMetrics) error {
	if !m.nodeExists(nodeID) {
		return apperrors.NotFound("node", nodeID)
	}

	m.mu.Lock()

	_, existed := m.states[nodeID]
	s := m.stateFor(nodeID)

	avg := s.effectiveAvgMs()
	if hb.AverageResponseTimeMs != nil {
		avg = *hb.AverageResponseTimeMs
	}

	sample := model.HealthMetrics{
		Timestamp:             m.now(),
		CPUUsage:              hb.CPUUsage,
		MemoryUsage:           hb.MemoryUsage,
		GPUUsage:              hb.GPUUsage,
		GPUMemoryUsage:        hb.GPUMemoryUsage,
		GPUMemoryTotalMB:      hb.GPUMemoryTotalMB,
		GPUMemoryUsedMB:       hb.GPUMemoryUsedMB,
		GPUTemperature:        hb.GPUTemperature,
		GPUCapabilityScore:    hb.GPUCapabilityScore,
		ActiveRequests:        hb.ActiveRequests,
		AverageResponseTimeMs: avg,
		TotalRequests:         s.TotalAssigned,
	}

	s.History = append(s.History, sample)
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
	s.Last = &s.History[len(s.History)-1]

	s.HeartbeatActive = hb.ActiveRequests
	s.HeartbeatAvgMs = hb.AverageResponseTimeMs

	wasInitializing := s.Initializing
	s.Initializing = hb.Initializing
	if hb.ReadyModels != nil {
		s.ReadyModels = model.ReadyModels{Ready: hb.ReadyModels[0], Total: hb.ReadyModels[1]}
	}

	// A first heartbeat that already reports ready counts as a transition
	// too: before it, this node had no state and could not end the wait.
	becameReady := !s.Initializing && (wasInitializing || !existed)
	m.mu.Unlock()

	if becameReady {
		m.notifyReady()
	}
	return nil
}

// BeginRequest records the start of a proxied request against nodeID.
func (m *Manager) BeginRequest(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(nodeID)
	s.AssignedActive++
	s.TotalAssigned++
}

// FinishRequest records the terminal outcome of a proxied request.
// A Queued outcome is accounting-only and does not touch assigned_active.
func (m *Manager) FinishRequest(nodeID string, outcome Outcome, duration time.Duration) {
	m.mu.Lock()
	s := m.stateFor(nodeID)

	if outcome != Queued {
		s.AssignedActive--
		if s.AssignedActive < 0 {
			s.AssignedActive = 0
		}
	}

	switch outcome {
	case Success:
		s.SuccessCount++
	case Error:
		s.ErrorCount++
	}
	if outcome != Queued {
		s.LatencySumMs += float64(duration.Milliseconds())
	}

	if s.Last != nil {
		s.Last.TotalRequests = s.TotalAssigned
		s.Last.AverageResponseTimeMs = s.effectiveAvgMs()
		if len(s.History) > 0 {
			s.History[len(s.History)-1] = *s.Last
		}
	}
	m.mu.Unlock()

	m.recordHistory(outcome, m.now())
}

// AgentLoadSnapshot is a read-only materialization of one node's state,
// used by the dashboard and the selection algorithm's callers.
type AgentLoadSnapshot struct {
	NodeID         string
	CombinedActive int64
	TotalAssigned  int64
	SuccessCount   int64
	ErrorCount     int64
	EffectiveAvgMs float64
	IsStale        bool
	Initializing   bool
	ReadyModels    model.ReadyModels
	LastUpdated    time.Time
}

// Snapshot materializes node's live state. Absent state yields zeros and
// IsStale=true.
func (m *Manager) Snapshot(nodeID string) AgentLoadSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[nodeID]
	if !ok {
		return AgentLoadSnapshot{NodeID: nodeID, IsStale: true}
	}

	snap := AgentLoadSnapshot{
		NodeID:         nodeID,
		CombinedActive: s.combinedActive(),
		TotalAssigned:  s.TotalAssigned,
		SuccessCount:   s.SuccessCount,
		ErrorCount:     s.ErrorCount,
		EffectiveAvgMs: s.effectiveAvgMs(),
		IsStale:        s.isStale(m.now()),
		Initializing:   s.Initializing,
		ReadyModels:    s.ReadyModels,
	}
	if s.Last != nil {
		snap.LastUpdated = s.Last.Timestamp
	}
	return snap
}

// Snapshots returns a snapshot for every node the registry currently knows.
func (m *Manager) Snapshots() []AgentLoadSnapshot {
	nodes := m.registry.List()
	out := make([]AgentLoadSnapshot, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, m.Snapshot(n.ID))
	}
	return out
}

// MetricsHistory returns node's bounded sample history, oldest first.
func (m *Manager) MetricsHistory(nodeID string) []model.HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[nodeID]
	if !ok {
		return nil
	}
	out := make([]model.HealthMetrics, len(s.History))
	copy(out, s.History)
	return out
}

// Summary aggregates live state across the whole fleet for the dashboard.
type Summary struct {
	TotalNodes     int
	OnlineNodes    int
	OfflineNodes   int
	CombinedActive int64 // sum over fresh-only entries
	AvgEffectiveMs float64
	AvgGPUUsage    float64
	AvgGPUMemUsage float64
	LastUpdated    time.Time
}

// Summary computes the fleet-wide snapshot described in spec §4.2: a
// weighted-by-total-assigned average of effective latency over fresh
// entries (falling back to an unweighted mean when every weight is zero),
// and an arithmetic mean of GPU utilization across fresh samples that
// reported it.
func (m *Manager) Summary() Summary {
	nodes := m.registry.List()
	now := m.now()

	var sum Summary
	sum.TotalNodes = len(nodes)

	var (
		weightedMsSum, weightSum float64
		unweightedMsSum          float64
		freshCount               int
		gpuSum, gpuMemSum        float64
		gpuCount, gpuMemCount    int
		maxUpdated               time.Time
	)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range nodes {
		if n.Status == model.NodeOnline {
			sum.OnlineNodes++
		} else {
			sum.OfflineNodes++
		}

		s, ok := m.states[n.ID]
		if !ok || s.isStale(now) {
			continue
		}
		freshCount++
		sum.CombinedActive += s.combinedActive()

		avg := s.effectiveAvgMs()
		weight := float64(s.TotalAssigned)
		weightedMsSum += avg * weight
		weightSum += weight
		unweightedMsSum += avg

		if s.Last != nil {
			if s.Last.GPUUsage != nil {
				gpuSum += *s.Last.GPUUsage
				gpuCount++
			}
			if s.Last.GPUMemoryUsage != nil {
				gpuMemSum += *s.Last.GPUMemoryUsage
				gpuMemCount++
			}
			if s.Last.Timestamp.After(maxUpdated) {
				maxUpdated = s.Last.Timestamp
			}
		}
	}

	if weightSum > 0 {
		sum.AvgEffectiveMs = weightedMsSum / weightSum
	} else if freshCount > 0 {
		sum.AvgEffectiveMs = unweightedMsSum / float64(freshCount)
	}
	if gpuCount > 0 {
		sum.AvgGPUUsage = gpuSum / float64(gpuCount)
	}
	if gpuMemCount > 0 {
		sum.AvgGPUMemUsage = gpuMemSum / float64(gpuMemCount)
	}
	sum.LastUpdated = maxUpdated
	return sum
}

// AllInitializing reports whether every known node state is still
// Initializing (vacuously true when no node has ever heartbeated).
func (m *Manager) AllInitializing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.states {
		if !s.Initializing {
			return false
		}
	}
	return true
}
