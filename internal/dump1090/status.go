package dump1090

import (
	"sort"
	"sync"

	"adsb_feeds/internal/models"
)

// StatusSink receives a server's status on every state transition and after
// every batch of decoded messages. Implementations must not block.
type StatusSink interface {
	ReportStatus(status models.ServerStatus)
}

// StatusSinkFunc adapts a function to StatusSink
type StatusSinkFunc func(status models.ServerStatus)

func (f StatusSinkFunc) ReportStatus(status models.ServerStatus) {
	f(status)
}

// StatusBoard remembers the latest status of each server and forwards
// every report to an optional downstream sink
type StatusBoard struct {
	mu       sync.RWMutex
	statuses map[string]models.ServerStatus
	next     StatusSink
}

func NewStatusBoard(next StatusSink) *StatusBoard {
	return &StatusBoard{
		statuses: make(map[string]models.ServerStatus),
		next:     next,
	}
}

func (b *StatusBoard) ReportStatus(status models.ServerStatus) {
	b.mu.Lock()
	b.statuses[status.ServerID] = status
	b.mu.Unlock()

	if b.next != nil {
		b.next.ReportStatus(status)
	}
}

// Get returns the latest status of one server
func (b *StatusBoard) Get(serverID string) (models.ServerStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.statuses[serverID]
	return st, ok
}

// All returns the latest status of every server, ordered by server id
func (b *StatusBoard) All() []models.ServerStatus {
	b.mu.RLock()
	out := make([]models.ServerStatus, 0, len(b.statuses))
	for _, st := range b.statuses {
		out = append(out, st)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Remove forgets a server
func (b *StatusBoard) Remove(serverID string) {
	b.mu.Lock()
	delete(b.statuses, serverID)
	b.mu.Unlock()
}
