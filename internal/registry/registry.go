// Package registry implements the Node Registry (spec component A): the
// in-memory map of worker nodes, its durable JSON mirror, GPU-invariant
// validation, and lifecycle mutation.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/logging"
)

// Registry owns every Node's lifecycle. All mutation takes the single
// write lock; snapshots are cloned out under a read lock and released
// before any I/O.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*model.Node
	// byKey indexes nodes by (machine_name, runtime_port) for re-registration lookup.
	byKey map[string]string

	store  *jsonStore
	logger *logging.Logger
}

func nodeKey(machine string, port int) string {
	return machine + "|" + strconv.Itoa(port)
}

// New opens the registry over dataDir/nodes.json, running the startup
// recovery pass described in spec §4.1.
func New(dataDir string, logger *logging.Logger) (*Registry, error) {
	store, err := newJSONStore(dataDir, logger)
	if err != nil {
		return nil, err
	}

	nodes, err := store.load()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		nodes:  make(map[string]*model.Node, len(nodes)),
		byKey:  make(map[string]string, len(nodes)),
		store:  store,
		logger: logger,
	}

	for _, n := range nodes {
		n := n
		sanitizeDerivedGPU(n)
		if ok, reason := validGPU(n.GPUDevices); !ok {
			logger.WithFields(map[string]interface{}{
				"node_id": n.ID,
				"machine": n.MachineName,
				"reason":  reason,
			}).Warn("deleting persisted node with invalid GPU facts")
			continue
		}
		r.nodes[n.ID] = n
		r.byKey[nodeKey(n.MachineName, n.RuntimePort)] = n.ID
	}

	r.persistAsync()
	return r, nil
}

// validGPU checks the invariant: gpu_available ⇒ devices non-empty ∧ every
// device has a non-empty model and a positive count.
func validGPU(devices []model.GPUDevice) (bool, string) {
	if len(devices) == 0 {
		return false, "no gpu devices"
	}
	for _, d := range devices {
		if strings.TrimSpace(d.Model) == "" {
			return false, "gpu device missing model"
		}
		if d.Count <= 0 {
			return false, "gpu device has non-positive count"
		}
	}
	return true, ""
}

// sanitizeDerivedGPU reconstructs gpu_devices from a lone gpu_model when
// the device list is otherwise absent, per the startup recovery pass.
func sanitizeDerivedGPU(n *model.Node) {
	if len(n.GPUDevices) == 0 && n.GPUModel != "" {
		count := n.GPUCount
		if count <= 0 {
			count = 1
		}
		n.GPUDevices = []model.GPUDevice{{Model: n.GPUModel, Count: count}}
	}
	deriveAggregates(n)
}

func deriveAggregates(n *model.Node) {
	total := 0
	primary := ""
	for _, d := range n.GPUDevices {
		total += d.Count
		if primary == "" {
			primary = d.Model
		}
	}
	if n.GPUCount == 0 {
		n.GPUCount = total
	}
	if n.GPUModel == "" {
		n.GPUModel = primary
	}
}

// RegisterOutcome reports whether a registration created a new node or
// refreshed an existing one.
type RegisterOutcome string

const (
	Registered RegisterOutcome = "Registered"
	Updated    RegisterOutcome = "Updated"
)

// Register validates and applies req, returning the node id, whether it
// was newly created or refreshed, and the derived control port.
func (r *Registry) Register(req model.RegisterRequest) (string, RegisterOutcome, int, error) {
	if !req.GPUAvailable {
		return "", "", 0, apperrors.GPURequired("gpu_available is false")
	}
	if ok, reason := validGPU(req.GPUDevices); !ok {
		return "", "", 0, apperrors.GPURequired(reason)
	}

	controlPort := req.RuntimePort + 1
	now := time.Now().UTC()

	r.mu.Lock()
	key := nodeKey(req.MachineName, req.RuntimePort)
	existingID, exists := r.byKey[key]

	var (
		id      string
		outcome RegisterOutcome
	)

	if exists {
		n := r.nodes[existingID]
		n.IPAddress = req.IPAddress
		n.RuntimeVersion = req.RuntimeVersion
		n.GPUDevices = req.GPUDevices
		n.GPUCount = 0
		n.GPUModel = ""
		if req.GPUCount != nil {
			n.GPUCount = *req.GPUCount
		}
		if req.GPUModel != nil {
			n.GPUModel = *req.GPUModel
		}
		deriveAggregates(n)
		n.Status = model.NodeOnline
		n.LastSeen = now
		n.Initializing = true
		n.ReadyModels = model.ReadyModels{}
		if n.OnlineSince == nil {
			n.OnlineSince = &now
		}
		id = existingID
		outcome = Updated
	} else {
		id = uuid.NewString()
		n := &model.Node{
			ID:             id,
			MachineName:    req.MachineName,
			IPAddress:      req.IPAddress,
			RuntimeVersion: req.RuntimeVersion,
			RuntimePort:    req.RuntimePort,
			ControlPort:    controlPort,
			Status:         model.NodeOnline,
			RegisteredAt:   now,
			LastSeen:       now,
			OnlineSince:    &now,
			LoadedModels:   []string{},
			GPUDevices:     req.GPUDevices,
			Initializing:   true,
		}
		if req.GPUCount != nil {
			n.GPUCount = *req.GPUCount
		}
		if req.GPUModel != nil {
			n.GPUModel = *req.GPUModel
		}
		deriveAggregates(n)
		r.nodes[id] = n
		r.byKey[key] = id
		outcome = Registered
	}
	r.mu.Unlock()

	r.persistAsync()
	return id, outcome, controlPort, nil
}

// Get returns a copy of the node, or ok=false if unknown.
func (r *Registry) Get(id string) (model.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return *n, true
}

// List returns all nodes sorted by RegisteredAt ascending.
func (r *Registry) List() []model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

// UpdateLastSeen refreshes heartbeat-observed fields: last-seen, the
// Online transition (and online_since on offline→online), the normalized
// loaded-models set, and the optional warm-up/GPU facts.
func (r *Registry) UpdateLastSeen(id string, loadedModels []string, capability *model.GPUCapability, initializing *bool, ready *model.ReadyModels) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return apperrors.NotFound("node", id)
	}

	now := time.Now().UTC()
	wasOffline := n.Status == model.NodeOffline
	n.LastSeen = now
	n.Status = model.NodeOnline
	if wasOffline {
		n.OnlineSince = &now
	}

	if loadedModels != nil {
		n.LoadedModels = normalizeModelList(loadedModels)
	}
	if capability != nil {
		n.GPUCapability = capability
	}
	if initializing != nil {
		n.Initializing = *initializing
	}
	if ready != nil {
		n.ReadyModels = *ready
	}
	return nil
}

func normalizeModelList(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MarkModelLoaded inserts model into the node's loaded_models set,
// preserving the sorted, duplicate-free invariant.
func (r *Registry) MarkModelLoaded(id, modelName string) error {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return apperrors.Validation("model name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return apperrors.NotFound("node", id)
	}
	n.LoadedModels = normalizeModelList(append(append([]string{}, n.LoadedModels...), modelName))
	return nil
}

// MarkOffline transitions a node to Offline, clearing online_since.
func (r *Registry) MarkOffline(id string) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("node", id)
	}
	n.Status = model.NodeOffline
	n.OnlineSince = nil
	r.mu.Unlock()

	r.persistAsync()
	return nil
}

// Delete removes the node from memory and persistence.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("node", id)
	}
	delete(r.nodes, id)
	delete(r.byKey, nodeKey(n.MachineName, n.RuntimePort))
	r.mu.Unlock()

	r.persistAsync()
	return nil
}

// UpdateSettings applies a partial operator-edit to custom_name/tags/notes.
func (r *Registry) UpdateSettings(id string, update model.SettingsUpdate) error {
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		r.persistAsync()
	}()

	n, ok := r.nodes[id]
	if !ok {
		return apperrors.NotFound("node", id)
	}

	if update.CustomName != nil {
		if update.CustomName.Valid {
			v := strings.TrimSpace(update.CustomName.Value)
			if v == "" {
				n.CustomName = nil
			} else {
				n.CustomName = &v
			}
		} else {
			n.CustomName = nil
		}
	}
	if update.Tags != nil {
		n.Tags = *update.Tags
	}
	if update.Notes != nil {
		if update.Notes.Valid {
			v := strings.TrimSpace(update.Notes.Value)
			if v == "" {
				n.Notes = nil
			} else {
				n.Notes = &v
			}
		} else {
			n.Notes = nil
		}
	}
	return nil
}

// persistAsync snapshots the current node set and writes it to disk in a
// background goroutine; the caller's mutation is already visible in memory.
func (r *Registry) persistAsync() {
	snapshot := r.List()
	go func() {
		if err := r.store.save(snapshot); err != nil {
			r.logger.WithError(err).Error("persist node registry failed")
		}
	}()
}
