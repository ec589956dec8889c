package loadmanager

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
)

type candidate struct {
	node       model.Node
	state      *AgentLoadState
	rrPriority int
}

// onlineCandidates snapshots the registry's Online nodes paired with their
// live load state (nil if the node has never produced one), along with a
// round-robin priority map anchored at the current cursor.
func (m *Manager) onlineCandidates() []candidate {
	nodes := m.registry.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	online := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == model.NodeOnline {
			online = append(online, n)
		}
	}
	if len(online) == 0 {
		return nil
	}

	// Advance the round-robin cursor once per selection call so tied
	// candidates resolve to a fair cyclic order across calls, not always
	// to the same slice index.
	cursor := atomic.AddUint64(&m.rr, 1)
	out := make([]candidate, 0, len(online))
	for i, n := range online {
		out = append(out, candidate{
			node:       n,
			state:      m.states[n.ID],
			rrPriority: int((uint64(i) - cursor) % uint64(len(online))),
		})
	}
	return out
}

// cmpOptFloat orders like the spec's "None is greater than any Some": a
// node without a reported value loses ties to one that has one.
func cmpOptFloat(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (c candidate) combinedActive() int64 {
	if c.state == nil {
		return 0
	}
	return c.state.combinedActive()
}

func (c candidate) cpu() *float64 {
	if c.state == nil || c.state.Last == nil {
		return nil
	}
	v := c.state.Last.CPUUsage
	return &v
}

func (c candidate) mem() *float64 {
	if c.state == nil || c.state.Last == nil {
		return nil
	}
	v := c.state.Last.MemoryUsage
	return &v
}

func (c candidate) gpu() *float64 {
	if c.state == nil || c.state.Last == nil {
		return nil
	}
	return c.state.Last.GPUUsage
}

func (c candidate) gpuMem() *float64 {
	if c.state == nil || c.state.Last == nil {
		return nil
	}
	return c.state.Last.GPUMemoryUsage
}

func (c candidate) specScore() int64 {
	if c.state == nil {
		return 0
	}
	return c.state.specScore()
}

func (c candidate) effectiveAvgMs() float64 {
	if c.state == nil {
		return 0
	}
	return c.state.effectiveAvgMs()
}

func (c candidate) totalAssigned() int64 {
	if c.state == nil {
		return 0
	}
	return c.state.TotalAssigned
}

func (c candidate) isFresh(m *Manager) bool {
	if c.state == nil {
		return false
	}
	return !c.state.isStale(m.now())
}

// SelectAgent implements the central selection policy from spec §4.2.
func (m *Manager) SelectAgent() (model.Node, error) {
	candidates := m.onlineCandidates()
	if len(candidates) == 0 {
		return model.Node{}, apperrors.NoAgentsAvailable()
	}

	allFresh := true
	for _, c := range candidates {
		if !c.isFresh(m) {
			allFresh = false
			break
		}
	}

	if allFresh {
		under80 := make([]candidate, 0, len(candidates))
		for _, c := range candidates {
			if cpu := c.cpu(); cpu != nil && *cpu <= 80 {
				under80 = append(under80, c)
			}
		}
		if len(under80) > 0 {
			sort.SliceStable(under80, func(i, j int) bool {
				a, b := under80[i], under80[j]
				if d := cmpInt64(a.combinedActive(), b.combinedActive()); d != 0 {
					return d < 0
				}
				if d := cmpOptFloat(a.cpu(), b.cpu()); d != 0 {
					return d < 0
				}
				if d := cmpOptFloat(a.mem(), b.mem()); d != 0 {
					return d < 0
				}
				if d := cmpOptFloat(a.gpu(), b.gpu()); d != 0 {
					return d < 0
				}
				if d := cmpOptFloat(a.gpuMem(), b.gpuMem()); d != 0 {
					return d < 0
				}
				if d := cmpInt64(b.specScore(), a.specScore()); d != 0 { // desc
					return d < 0
				}
				if a.effectiveAvgMs() != b.effectiveAvgMs() {
					return a.effectiveAvgMs() < b.effectiveAvgMs()
				}
				if d := cmpInt64(a.totalAssigned(), b.totalAssigned()); d != 0 {
					return d < 0
				}
				return a.rrPriority < b.rrPriority
			})
			return under80[0].node, nil
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if d := cmpOptFloat(a.cpu(), b.cpu()); d != 0 {
				return d < 0
			}
			if d := cmpOptFloat(a.mem(), b.mem()); d != 0 {
				return d < 0
			}
			if d := cmpOptFloat(a.gpu(), b.gpu()); d != 0 {
				return d < 0
			}
			if d := cmpOptFloat(a.gpuMem(), b.gpuMem()); d != 0 {
				return d < 0
			}
			if d := cmpInt64(b.specScore(), a.specScore()); d != 0 {
				return d < 0
			}
			return a.rrPriority < b.rrPriority
		})
		return candidates[0].node, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if d := cmpInt64(a.combinedActive(), b.combinedActive()); d != 0 {
			return d < 0
		}
		if d := cmpInt64(b.specScore(), a.specScore()); d != 0 {
			return d < 0
		}
		return a.rrPriority < b.rrPriority
	})
	return candidates[0].node, nil
}

// SelectAgentByMetrics is the alternate operator-facing policy
// (LOAD_BALANCER_MODE=metrics): a flat weighted-sum score over fresh
// nodes, falling back to the round-robin set when every fresh node is
// above the 80% CPU threshold.
func (m *Manager) SelectAgentByMetrics() (model.Node, error) {
	candidates := m.onlineCandidates()
	if len(candidates) == 0 {
		return model.Node{}, apperrors.NoAgentsAvailable()
	}

	type scored struct {
		candidate
		score float64
	}

	fresh := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if !c.isFresh(m) {
			continue
		}
		if cpu := c.cpu(); cpu == nil || *cpu > 80 {
			continue
		}
		score := 0.0
		if cpu := c.cpu(); cpu != nil {
			score += *cpu
		}
		if mem := c.mem(); mem != nil {
			score += *mem
		}
		if gpu := c.gpu(); gpu != nil {
			score += *gpu
		}
		if gpuMem := c.gpuMem(); gpuMem != nil {
			score += *gpuMem
		}
		score += 10 * float64(c.combinedActive())
		fresh = append(fresh, scored{c, score})
	}

	if len(fresh) == 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if d := cmpInt64(a.combinedActive(), b.combinedActive()); d != 0 {
				return d < 0
			}
			if d := cmpInt64(b.specScore(), a.specScore()); d != 0 {
				return d < 0
			}
			return a.rrPriority < b.rrPriority
		})
		return candidates[0].node, nil
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		a, b := fresh[i], fresh[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if d := cmpInt64(b.specScore(), a.specScore()); d != 0 {
			return d < 0
		}
		return a.rrPriority < b.rrPriority
	})
	return fresh[0].node, nil
}

// SelectAvailableAgentForModel intersects the Online set with nodes whose
// loaded_models contains the exact lowercase-trimmed model id; among those
// it returns the most recently seen. With no match it delegates to
// SelectAgent.
func (m *Manager) SelectAvailableAgentForModel(modelName string) (model.Node, error) {
	wanted := strings.ToLower(strings.TrimSpace(modelName))
	nodes := m.registry.List()

	var best *model.Node
	for i := range nodes {
		n := &nodes[i]
		if n.Status != model.NodeOnline {
			continue
		}
		if !hasModel(n.LoadedModels, wanted) {
			continue
		}
		if best == nil || n.LastSeen.After(best.LastSeen) {
			best = n
		}
	}
	if best != nil {
		return *best, nil
	}
	return m.SelectAgent()
}

func hasModel(loaded []string, wanted string) bool {
	for _, m := range loaded {
		if strings.ToLower(strings.TrimSpace(m)) == wanted {
			return true
		}
	}
	return false
}
