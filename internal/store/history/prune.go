package history

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/llmfleet/router/internal/platform/logging"
)

// PruneLoop runs a startup prune, then schedules an hourly prune via
// cron, per spec §4.7 ("a background task invokes prune hourly after a
// startup prune"). Call Stop to halt the schedule during shutdown.
type PruneLoop struct {
	store     *Store
	olderThan time.Duration
	log       *logging.Logger
	cron      *cron.Cron
}

func NewPruneLoop(store *Store, olderThan time.Duration, logger *logging.Logger) *PruneLoop {
	if olderThan <= 0 {
		olderThan = 7 * 24 * time.Hour
	}
	return &PruneLoop{store: store, olderThan: olderThan, log: logger}
}

// Start runs the initial prune synchronously, then schedules the hourly job.
func (p *PruneLoop) Start() {
	p.runOnce()

	p.cron = cron.New()
	_, err := p.cron.AddFunc("@hourly", p.runOnce)
	if err != nil {
		p.log.WithError(err).Error("failed to schedule request history prune job")
		return
	}
	p.cron.Start()
}

func (p *PruneLoop) runOnce() {
	removed, err := p.store.Prune(p.olderThan)
	if err != nil {
		p.log.WithError(err).Error("request history prune failed")
		return
	}
	if removed > 0 {
		p.log.WithFields(map[string]interface{}{"removed": removed}).Info("pruned request history")
	}
}

// Stop halts the cron schedule. Safe to call even if Start was never called.
func (p *PruneLoop) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}
