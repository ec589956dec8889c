// Package catalog holds the built-in model catalog plus any entries
// created by the model-distribution flow (pending-conversion and
// external-GGUF models), backing GET /v1/models and the dashboard's
// distribution picker.
package catalog

import (
	"strings"
	"sync"

	"github.com/llmfleet/router/internal/model"
)

func builtins() []model.ModelInfo {
	return []model.ModelInfo{
		{
			Name:             "gpt-oss:20b",
			SizeBytes:        13_000_000_000,
			Description:      "Open-weights 20B parameter chat model",
			RequiredMemoryMB: 16000,
			Tags:             []string{"chat", "general"},
			Source:           model.SourceBuiltin,
		},
		{
			Name:             "llama3.1:8b",
			SizeBytes:        4_700_000_000,
			Description:      "Meta Llama 3.1 8B instruct",
			RequiredMemoryMB: 8000,
			Tags:             []string{"chat", "general"},
			Source:           model.SourceBuiltin,
		},
		{
			Name:             "qwen2.5:14b",
			SizeBytes:        9_000_000_000,
			Description:      "Qwen2.5 14B instruct",
			RequiredMemoryMB: 12000,
			Tags:             []string{"chat", "code"},
			Source:           model.SourceBuiltin,
		},
		{
			Name:             "mixtral:8x7b",
			SizeBytes:        26_000_000_000,
			Description:      "Mixtral 8x7B mixture-of-experts",
			RequiredMemoryMB: 32000,
			Tags:             []string{"chat", "general"},
			Source:           model.SourceBuiltin,
		},
	}
}

// Catalog is a small in-memory table: the fixed built-in entries plus
// entries registered dynamically by the model-distribution flow.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]model.ModelInfo
}

func New() *Catalog {
	c := &Catalog{entries: make(map[string]model.ModelInfo)}
	for _, m := range builtins() {
		c.entries[m.Name] = m
	}
	return c
}

// List returns every catalog entry.
func (c *Catalog) List() []model.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ModelInfo, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, m)
	}
	return out
}

// Get returns one entry by name (case-sensitive, matching loaded_models
// convention elsewhere).
func (c *Catalog) Get(name string) (model.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[strings.TrimSpace(name)]
	return m, ok
}

// RegisterExternalGGUF adds (or replaces) an entry sourced from an
// external GGUF download, used by the model-distribution flow when a
// requested model isn't in the built-in table.
func (c *Catalog) RegisterExternalGGUF(name, downloadURL string, sizeBytes, requiredMemoryMB int64) model.ModelInfo {
	m := model.ModelInfo{
		Name:             name,
		SizeBytes:        sizeBytes,
		Description:      "Externally sourced GGUF model",
		RequiredMemoryMB: requiredMemoryMB,
		Source:           model.SourceExternalGGUF,
		DownloadURL:      &downloadURL,
	}
	c.mu.Lock()
	c.entries[name] = m
	c.mu.Unlock()
	return m
}

// RegisterPendingConversion marks a catalog entry as awaiting an
// offline GGUF conversion step before it can be distributed.
func (c *Catalog) RegisterPendingConversion(name string) model.ModelInfo {
	m := model.ModelInfo{
		Name:        name,
		Description: "Pending conversion to GGUF",
		Source:      model.SourcePendingConversion,
	}
	c.mu.Lock()
	c.entries[name] = m
	c.mu.Unlock()
	return m
}
