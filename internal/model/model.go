// Package model holds the router's core data types, shared by every
// component per spec §3: nodes, load state, journal records, download
// tasks, and the model catalog.
package model

import (
	"encoding/json"
	"time"
)

// NodeStatus is a worker node's lifecycle status.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "Online"
	NodeOffline NodeStatus = "Offline"
)

// GPUDevice describes one physical GPU reported at registration.
type GPUDevice struct {
	Model      string `json:"model"`
	Count      int    `json:"count"`
	MemoryMB   *int64 `json:"memory_mb,omitempty"`
}

// GPUCapability carries optional capability facts reported by a worker,
// used as the selection algorithm's tie-breaking "spec score".
type GPUCapability struct {
	ModelName        string `json:"model_name,omitempty"`
	ComputeCap       string `json:"compute_capability,omitempty"`
	PeakClockMHz     int    `json:"peak_clock_mhz,omitempty"`
	TotalMemoryMB    int64  `json:"total_memory_mb,omitempty"`
	CapabilityScore  int64  `json:"capability_score,omitempty"`
}

// ReadyModels is the (ready, total) pair a worker reports for its warm-up
// progress loading models into GPU memory.
type ReadyModels struct {
	Ready int `json:"ready"`
	Total int `json:"total"`
}

// Node is a registered worker, owned exclusively by the registry.
type Node struct {
	ID             string        `json:"id"`
	MachineName    string        `json:"machine_name"`
	IPAddress      string        `json:"ip_address"`
	RuntimeVersion string        `json:"runtime_version"`
	RuntimePort    int           `json:"runtime_port"`
	ControlPort    int           `json:"control_port"`
	Status         NodeStatus    `json:"status"`
	RegisteredAt   time.Time     `json:"registered_at"`
	LastSeen       time.Time     `json:"last_seen"`
	OnlineSince    *time.Time    `json:"online_since,omitempty"`
	CustomName     *string       `json:"custom_name,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Notes          *string       `json:"notes,omitempty"`
	LoadedModels   []string      `json:"loaded_models"`
	GPUDevices     []GPUDevice   `json:"gpu_devices"`
	GPUCount       int           `json:"gpu_count"`
	GPUModel       string        `json:"gpu_model"`
	GPUCapability  *GPUCapability `json:"gpu_capability,omitempty"`
	Initializing   bool          `json:"initializing"`
	ReadyModels    ReadyModels   `json:"ready_models"`
}

// RegisterRequest is the inbound registration payload.
type RegisterRequest struct {
	MachineName    string      `json:"machine_name"`
	IPAddress      string      `json:"ip_address"`
	RuntimeVersion string      `json:"runtime_version"`
	RuntimePort    int         `json:"runtime_port"`
	GPUAvailable   bool        `json:"gpu_available"`
	GPUDevices     []GPUDevice `json:"gpu_devices"`
	GPUCount       *int        `json:"gpu_count,omitempty"`
	GPUModel       *string     `json:"gpu_model,omitempty"`
}

// SettingsUpdate is a partial, operator-supplied update to a node's
// editable fields. A nil pointer leaves the field untouched; a
// pointer-to-nil (modeled here as a present-but-empty sentinel via
// NullableString) clears it.
type SettingsUpdate struct {
	CustomName *NullableString `json:"custom_name,omitempty"`
	Tags       *[]string       `json:"tags,omitempty"`
	Notes      *NullableString `json:"notes,omitempty"`
}

// UnmarshalJSON keeps an explicit null for custom_name or notes as a present
// NullableString with Valid=false instead of the nil pointer encoding/json sets.
func (u *SettingsUpdate) UnmarshalJSON(data []byte) error {
	type plain SettingsUpdate
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(data, (*plain)(u)); err != nil {
		return err
	}
	for key, field := range map[string]**NullableString{"custom_name": &u.CustomName, "notes": &u.Notes} {
		if string(raw[key]) == "null" {
			*field = &NullableString{}
		}
	}
	return nil
}

// NullableString distinguishes "absent" (whole field omitted from the
// SettingsUpdate) from "present but explicitly cleared" (Valid=false).
type NullableString struct {
	Value string
	Valid bool
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = s
	n.Valid = true
	return nil
}

// HeartbeatMetrics is one heartbeat sample from a worker.
type HeartbeatMetrics struct {
	NodeID                 string   `json:"node_id"`
	CPUUsage               float64  `json:"cpu_usage"`
	MemoryUsage            float64  `json:"memory_usage"`
	GPUUsage               *float64 `json:"gpu_usage,omitempty"`
	GPUMemoryUsage         *float64 `json:"gpu_memory_usage,omitempty"`
	GPUMemoryTotalMB       *int64   `json:"gpu_memory_total_mb,omitempty"`
	GPUMemoryUsedMB        *int64   `json:"gpu_memory_used_mb,omitempty"`
	GPUTemperature         *float64 `json:"gpu_temperature,omitempty"`
	GPUModelName           *string  `json:"gpu_model_name,omitempty"`
	GPUComputeCapability   *string  `json:"gpu_compute_capability,omitempty"`
	GPUCapabilityScore     *int64   `json:"gpu_capability_score,omitempty"`
	ActiveRequests         int      `json:"active_requests"`
	AverageResponseTimeMs  *float64 `json:"average_response_time_ms,omitempty"`
	LoadedModels           []string `json:"loaded_models"`
	Initializing           bool     `json:"initializing"`
	ReadyModels            *[2]int  `json:"ready_models,omitempty"`
}

// HealthMetrics is one bounded-history sample held by the Load Manager.
type HealthMetrics struct {
	Timestamp             time.Time `json:"timestamp"`
	CPUUsage              float64   `json:"cpu_usage"`
	MemoryUsage           float64   `json:"memory_usage"`
	GPUUsage              *float64  `json:"gpu_usage,omitempty"`
	GPUMemoryUsage        *float64  `json:"gpu_memory_usage,omitempty"`
	GPUMemoryTotalMB      *int64    `json:"gpu_memory_total_mb,omitempty"`
	GPUMemoryUsedMB       *int64    `json:"gpu_memory_used_mb,omitempty"`
	GPUTemperature        *float64  `json:"gpu_temperature,omitempty"`
	GPUCapabilityScore    *int64    `json:"gpu_capability_score,omitempty"`
	ActiveRequests        int       `json:"active_requests"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	TotalRequests         int64     `json:"total_requests"`
}

// RequestType enumerates the journaled request kinds.
type RequestType string

const (
	RequestChat       RequestType = "Chat"
	RequestGenerate   RequestType = "Generate"
	RequestEmbeddings RequestType = "Embeddings"
)

// RequestStatus is the terminal outcome of a journaled request.
type RequestStatus string

const (
	StatusSuccess RequestStatus = "Success"
	StatusError   RequestStatus = "Error"
	StatusQueued  RequestStatus = "Queued"
)

// RequestResponseRecord is one entry in the request-history journal.
type RequestResponseRecord struct {
	ID             string        `json:"id"`
	RequestedAt    time.Time     `json:"requested_at"`
	RequestType    RequestType   `json:"request_type"`
	Model          string        `json:"model"`
	NodeID         string        `json:"node_id"`
	MachineName    string        `json:"machine_name"`
	WorkerIP       string        `json:"worker_ip"`
	ClientIP       string        `json:"client_ip,omitempty"`
	RequestBody    string        `json:"request_body,omitempty"`
	ResponseBody   *string       `json:"response_body,omitempty"`
	DurationMs     int64         `json:"duration_ms"`
	Status         RequestStatus `json:"status"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// DownloadStatus is a DownloadTask's lifecycle state.
type DownloadStatus string

const (
	DownloadPending    DownloadStatus = "Pending"
	DownloadInProgress DownloadStatus = "InProgress"
	DownloadCompleted  DownloadStatus = "Completed"
	DownloadFailed     DownloadStatus = "Failed"
)

// DownloadTask tracks one model-pull onto one node, owned exclusively by
// the Download Task Manager.
type DownloadTask struct {
	ID          string         `json:"id"`
	NodeID      string         `json:"node_id"`
	Model       string         `json:"model"`
	Status      DownloadStatus `json:"status"`
	Progress    float64        `json:"progress"`
	BytesPerSec *float64       `json:"bytes_per_sec,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// RequestHistoryPoint is one minute-aligned bucket in the 60-minute
// sliding request histogram.
type RequestHistoryPoint struct {
	Minute  time.Time `json:"minute"`
	Success int64     `json:"success"`
	Error   int64     `json:"error"`
}

// ModelSource identifies where a catalog entry's bytes originate.
type ModelSource string

const (
	SourceBuiltin           ModelSource = "builtin"
	SourceExternalGGUF      ModelSource = "external_gguf"
	SourcePendingConversion ModelSource = "pending_conversion"
)

// ModelInfo is one entry in the model catalog.
type ModelInfo struct {
	Name              string      `json:"name"`
	SizeBytes         int64       `json:"size_bytes"`
	Description       string      `json:"description"`
	RequiredMemoryMB  int64       `json:"required_memory_mb"`
	Tags              []string    `json:"tags"`
	Source            ModelSource `json:"source"`
	DownloadURL        *string    `json:"download_url,omitempty"`
	CachedPath         *string    `json:"cached_path,omitempty"`
	ChatTemplate       *string    `json:"chat_template,omitempty"`
}
