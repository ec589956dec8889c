// Command fakeworker is a test fixture standing in for the real GPU
// inference worker process: it registers with a router, then heartbeats
// real host CPU/memory samples (via gopsutil) on a fixed interval,
// retrying registration with backoff (via go-retryablehttp) up to
// COORDINATOR_REGISTER_MAX_RETRIES times before giving up.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/config"
)

type worker struct {
	baseURL     string
	machineName string
	client      *http.Client
	nodeID      string
	agentToken  string
}

func newWorker(baseURL, machineName string, retryMax int, retryWait time.Duration) *worker {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = retryWait
	retryClient.RetryWaitMax = retryWait * 3
	retryClient.Logger = nil

	return &worker{
		baseURL:     baseURL,
		machineName: machineName,
		client:      retryClient.StandardClient(),
	}
}

func (w *worker) register(ipAddress string, runtimePort int) error {
	req := model.RegisterRequest{
		MachineName:  w.machineName,
		IPAddress:    ipAddress,
		RuntimePort:  runtimePort,
		GPUAvailable: true,
		GPUDevices:   []model.GPUDevice{{Model: "simulated-gpu", Count: 1}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}

	resp, err := w.client.Post(w.baseURL+"/api/nodes", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		NodeID     string `json:"node_id"`
		AgentToken string `json:"agent_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode register response: %w", err)
	}
	w.nodeID = out.NodeID
	if out.AgentToken != "" {
		w.agentToken = out.AgentToken
	}
	return nil
}

func (w *worker) heartbeatOnce() error {
	cpuPct, err := cpu.Percent(500*time.Millisecond, false)
	if err != nil {
		return fmt.Errorf("sample cpu: %w", err)
	}
	vmem, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("sample mem: %w", err)
	}

	var cpuUsage float64
	if len(cpuPct) > 0 {
		cpuUsage = cpuPct[0]
	}

	hb := model.HeartbeatMetrics{
		NodeID:         w.nodeID,
		CPUUsage:       cpuUsage,
		MemoryUsage:    vmem.UsedPercent,
		ActiveRequests: 0,
		LoadedModels:   []string{},
		Initializing:   false,
	}
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.baseURL+"/api/health", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Token", w.agentToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	cfg := config.Load()
	baseURL := config.EnvOr("FAKEWORKER_ROUTER_URL", "http://localhost:8080")
	machineName := config.EnvOr("FAKEWORKER_MACHINE_NAME", "fakeworker-1")
	ipAddress := config.EnvOr("FAKEWORKER_IP", "127.0.0.1")
	runtimePort := config.EnvOrInt("FAKEWORKER_RUNTIME_PORT", 11434)

	w := newWorker(baseURL, machineName, cfg.RegisterMaxRetries, time.Duration(cfg.RegisterRetrySecs)*time.Second)

	if err := w.register(ipAddress, runtimePort); err != nil {
		log.Fatalf("CRITICAL: registration exhausted retries: %v", err)
	}
	log.Printf("registered as node %s", w.nodeID)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := w.heartbeatOnce(); err != nil {
			log.Printf("heartbeat failed: %v", err)
		}
	}

	os.Exit(0)
}
