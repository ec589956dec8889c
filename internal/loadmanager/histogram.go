package loadmanager

import (
	"time"

	"github.com/llmfleet/router/internal/model"
)

// historyWindow is the number of trailing minute-buckets RequestHistory
// always returns, zero-filled where no request completed.
const historyWindow = 60

func minuteFloor(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// recordHistory increments the minute-aligned bucket for ts, appending a
// new bucket if needed and pruning anything older than the trailing
// window. Queued outcomes are not counted; only Success/Error reach here.
func (m *Manager) recordHistory(outcome Outcome, ts time.Time) {
	if outcome == Queued {
		return
	}

	bucket := minuteFloor(ts)

	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	if n := len(m.history); n > 0 && m.history[n-1].Minute.Equal(bucket) {
		pt := &m.history[n-1]
		if outcome == Success {
			pt.Success++
		} else {
			pt.Error++
		}
	} else {
		pt := model.RequestHistoryPoint{Minute: bucket}
		if outcome == Success {
			pt.Success = 1
		} else {
			pt.Error = 1
		}
		m.history = append(m.history, pt)
	}

	cutoff := minuteFloor(ts).Add(-time.Duration(historyWindow-1) * time.Minute)
	i := 0
	for i < len(m.history) && m.history[i].Minute.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.history = append([]model.RequestHistoryPoint{}, m.history[i:]...)
	}
}

// RequestHistory returns exactly historyWindow consecutive minute buckets
// ending at the current minute, zero-filling any gap where no request
// completed.
func (m *Manager) RequestHistory() []model.RequestHistoryPoint {
	now := minuteFloor(m.now())
	start := now.Add(-time.Duration(historyWindow-1) * time.Minute)

	m.historyMu.Lock()
	byMinute := make(map[time.Time]model.RequestHistoryPoint, len(m.history))
	for _, pt := range m.history {
		byMinute[pt.Minute] = pt
	}
	m.historyMu.Unlock()

	out := make([]model.RequestHistoryPoint, historyWindow)
	for i := 0; i < historyWindow; i++ {
		minute := start.Add(time.Duration(i) * time.Minute)
		if pt, ok := byMinute[minute]; ok {
			out[i] = pt
		} else {
			out[i] = model.RequestHistoryPoint{Minute: minute}
		}
	}
	return out
}
