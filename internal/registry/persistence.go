package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/logging"
)

// jsonStore mirrors the registry's node set to a single nodes.json file,
// using atomic rename-over-temp writes so a crash never leaves a torn file.
type jsonStore struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
}

func newJSONStore(dataDir string, logger *logging.Logger) (*jsonStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &jsonStore{path: filepath.Join(dataDir, "nodes.json"), log: logger}, nil
}

// load reads the persisted snapshot. A parse failure renames the file to a
// timestamped .corrupted-... backup and returns an empty set so startup can
// continue.
func (s *jsonStore) load() ([]*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var nodes []*model.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		backup := s.path + ".corrupted-" + time.Now().UTC().Format("20060102150405")
		s.log.WithError(err).WithFields(map[string]interface{}{
			"backup_path": backup,
		}).Error("nodes.json failed to parse, quarantining")
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			s.log.WithError(renameErr).Error("failed to rename corrupted nodes.json")
		}
		return nil, nil
	}
	return nodes, nil
}

// save atomically replaces the persisted snapshot.
func (s *jsonStore) save(nodes []model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
