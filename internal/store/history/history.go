// Package history implements the Request History Store (spec component
// B): an append-only JSON journal of proxied request/response records,
// with filtered pagination, age-based pruning, and CSV export.
package history

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/logging"
)

// Store owns the journal file. Readers and writers are strictly
// serialized through a single process-wide mutex, matching the teacher's
// one-file-one-lock persistence style.
type Store struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
}

// New opens (without yet loading) the journal at dataDir/request_history.json.
func New(dataDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dataDir, "request_history.json"), log: logger}, nil
}

func (s *Store) loadLocked() ([]model.RequestResponseRecord, error) {
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
	var records []model.RequestResponseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		backup := s.path + ".corrupted-" + time.Now().UTC().Format("20060102150405")
		s.log.WithError(err).WithFields(map[string]interface{}{"backup_path": backup}).
			Error("request_history.json failed to parse, quarantining")
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			s.log.WithError(renameErr).Error("failed to rename corrupted request_history.json")
		}
		return nil, nil
	}
	return records, nil
}

func (s *Store) saveLocked(records []model.RequestResponseRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Append persists one record, assigning an id and CompletedAt if unset.
// Journaling is fire-and-forget from the caller's perspective: callers are
// expected to invoke this from a background goroutine (see proxy), so a
// failure here is only ever logged.
func (s *Store) Append(rec model.RequestResponseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return err
	}
	records = append(records, rec)
	return s.saveLocked(records)
}

// LoadAll returns every journaled record, oldest first.
func (s *Store) LoadAll() ([]model.RequestResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].RequestedAt.Before(records[j].RequestedAt) })
	return records, nil
}

// Filter narrows a record set by model substring, node id, status, and a
// [since, until) time range. Zero values leave the corresponding
// dimension unfiltered.
type Filter struct {
	ModelSubstring string
	NodeID         string
	Status         model.RequestStatus
	Since          time.Time
	Until          time.Time
}

func matches(rec model.RequestResponseRecord, f Filter) bool {
	if f.ModelSubstring != "" && !strings.Contains(strings.ToLower(rec.Model), strings.ToLower(f.ModelSubstring)) {
		return false
	}
	if f.NodeID != "" && rec.NodeID != f.NodeID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && rec.RequestedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.RequestedAt.Before(f.Until) {
		return false
	}
	return true
}

// FilterAndPaginate applies f to the full journal (newest first), then
// slices [offset, offset+limit). Returns the page plus the total matching
// count for pagination headers.
func (s *Store) FilterAndPaginate(f Filter, offset, limit int) ([]model.RequestResponseRecord, int, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, 0, err
	}

	var matched []model.RequestResponseRecord
	for i := len(all) - 1; i >= 0; i-- {
		if matches(all[i], f) {
			matched = append(matched, all[i])
		}
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Prune deletes every record older than olderThan, returning the number removed.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	kept := records[:0]
	removed := 0
	for _, r := range records {
		if r.RequestedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked(kept)
}

// ExportCSV writes the full journal (oldest first) as CSV to w.
func (s *Store) ExportCSV(w io.Writer) error {
	records, err := s.LoadAll()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "requested_at", "request_type", "model", "node_id", "machine_name",
		"worker_ip", "client_ip", "duration_ms", "status", "error_message", "completed_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.RequestedAt.Format(time.RFC3339),
			string(r.RequestType),
			r.Model,
			r.NodeID,
			r.MachineName,
			r.WorkerIP,
			r.ClientIP,
			itoa64(r.DurationMs),
			string(r.Status),
			r.ErrorMessage,
			r.CompletedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
