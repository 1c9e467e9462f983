package usecase

import (
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// ProcessTracker records processes spawned by Command bindings, per topic,
// most recent last. Dead entries are pruned lazily when a topic is read.
// All access is serialized by one mutex.
type ProcessTracker struct {
	mu      sync.Mutex
	records map[string][]domain.ProcessRecord
	pm      domain.ProcessManager
	now     func() time.Time
}

// NewProcessTracker creates an empty tracker.
func NewProcessTracker(pm domain.ProcessManager) *ProcessTracker {
	return &ProcessTracker{
		records: make(map[string][]domain.ProcessRecord),
		pm:      pm,
		now:     time.Now,
	}
}

// Append records pid under topic. Duplicate pids are not coalesced.
func (t *ProcessTracker) Append(topic string, pid int) domain.ProcessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := domain.ProcessRecord{Topic: topic, PID: pid, SpawnedAt: t.now()}
	t.records[topic] = append(t.records[topic], rec)
	return rec
}

// Live prunes exited processes for topic and returns the survivors.
func (t *ProcessTracker) Live(topic string) []domain.ProcessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.pruneLocked(topic)
	out := make([]domain.ProcessRecord, len(live))
	copy(out, live)
	return out
}

// Latest prunes topic and returns its most recently spawned live record.
func (t *ProcessTracker) Latest(topic string) (domain.ProcessRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.pruneLocked(topic)
	if len(live) == 0 {
		return domain.ProcessRecord{}, false
	}
	return live[len(live)-1], true
}

// Remove drops the record for pid under topic.
func (t *ProcessTracker) Remove(topic string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.records[topic]
	for i, rec := range list {
		if rec.PID == pid {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	t.setLocked(topic, list)
}

// Clear drops every record under topic.
func (t *ProcessTracker) Clear(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, topic)
}

// Len returns the number of records under topic without pruning.
func (t *ProcessTracker) Len(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.records[topic])
}

// Total returns the number of records across all topics without pruning.
func (t *ProcessTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, list := range t.records {
		n += len(list)
	}
	return n
}

func (t *ProcessTracker) pruneLocked(topic string) []domain.ProcessRecord {
	list := t.records[topic]
	live := list[:0]
	for _, rec := range list {
		if t.pm.IsRunning(rec.PID) {
			live = append(live, rec)
		}
	}
	t.setLocked(topic, live)
	return live
}

func (t *ProcessTracker) setLocked(topic string, list []domain.ProcessRecord) {
	if len(list) == 0 {
		delete(t.records, topic)
		return
	}
	t.records[topic] = list
}
