// Package tasks implements the Download Task Manager (spec component C):
// create/track/progress-update lifecycle for model-pull operations
// dispatched to worker nodes, plus the background RPC fan-out that
// kicks a pull off on the node's control port.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/logging"
)

func isTerminal(s model.DownloadStatus) bool {
	return s == model.DownloadCompleted || s == model.DownloadFailed
}

// Manager owns the download task table in memory. Tasks are not
// persisted; a restart loses in-flight progress, matching the original's
// "authoritative progress comes from the node's callback" design.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*model.DownloadTask
	client *http.Client
	log    *logging.Logger
}

func New(logger *logging.Logger) *Manager {
	return &Manager{
		tasks:  make(map[string]*model.DownloadTask),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
}

// CreateTask records a new pending task and, in a background goroutine,
// dispatches a pull RPC to the node's control port. Dispatch errors are
// logged but never fail the caller — the node's own progress callback is
// authoritative.
func (m *Manager) CreateTask(nodeID, ip string, controlPort int, modelName string) model.DownloadTask {
	task := model.DownloadTask{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		Model:     modelName,
		Status:    model.DownloadPending,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = &task
	m.mu.Unlock()

	go m.dispatchPull(task.ID, ip, controlPort, modelName)

	return task
}

func (m *Manager) dispatchPull(taskID, ip string, controlPort int, modelName string) {
	body, err := json.Marshal(map[string]string{"model": modelName, "task_id": taskID})
	if err != nil {
		m.log.WithError(err).Error("failed to marshal pull request")
		return
	}

	url := fmt.Sprintf("http://%s:%d/pull", ip, controlPort)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{"task_id": taskID}).Error("failed to build pull request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{"task_id": taskID, "node_ip": ip}).
			Warn("pull dispatch failed, node callback remains authoritative")
		return
	}
	defer resp.Body.Close()

	m.mu.Lock()
	if t, ok := m.tasks[taskID]; ok && t.Status == model.DownloadPending {
		t.Status = model.DownloadInProgress
	}
	m.mu.Unlock()
}

// GetTask returns a copy of the task, or ok=false if unknown.
func (m *Manager) GetTask(id string) (model.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.DownloadTask{}, false
	}
	return *t, true
}

// ListTasks returns every known task.
func (m *Manager) ListTasks() []model.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DownloadTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

// UpdateProgress applies a progress update, clamping to [0, 1]. A
// progress of exactly 1.0 implicitly completes the task. Once the task
// reaches a terminal state, further updates are ignored (write-once).
// Returns the updated task and whether this call completed it (so the
// caller can invoke Registry.MarkModelLoaded).
func (m *Manager) UpdateProgress(id string, progress float64, bytesPerSec *float64, taskErr *string) (model.DownloadTask, bool, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return model.DownloadTask{}, false, apperrors.NotFound("task", id)
	}
	if isTerminal(t.Status) {
		return *t, false, nil
	}

	t.Progress = progress
	if bytesPerSec != nil {
		t.BytesPerSec = bytesPerSec
	}

	justCompleted := false
	if taskErr != nil {
		t.Status = model.DownloadFailed
		t.Error = taskErr
		now := time.Now().UTC()
		t.CompletedAt = &now
	} else if progress >= 1.0 {
		t.Status = model.DownloadCompleted
		now := time.Now().UTC()
		t.CompletedAt = &now
		justCompleted = true
	} else {
		t.Status = model.DownloadInProgress
	}

	return *t, justCompleted, nil
}

// MarkCompleted is an explicit completion signal for a node that reports
// success without ever sending a progress=1.0 ping; no HTTP handler calls
// it, and the progress endpoint completes tasks through UpdateProgress.
// Idempotent with UpdateProgress's implicit path per spec §9's open question.
func (m *Manager) MarkCompleted(id string) (model.DownloadTask, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return model.DownloadTask{}, false, apperrors.NotFound("task", id)
	}
	if isTerminal(t.Status) {
		return *t, false, nil
	}
	t.Progress = 1.0
	t.Status = model.DownloadCompleted
	now := time.Now().UTC()
	t.CompletedAt = &now
	return *t, true, nil
}
