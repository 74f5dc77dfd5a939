package orchestrator

import (
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
)

// pendingRequest is one queued fetch plus every caller waiting on it. It is
// owned by the Scheduler: all field access happens under the scheduler mutex,
// and the request is destroyed (removed from the pending map) the moment it
// resolves.
type pendingRequest struct {
	key       string
	symbol    string // compact caller-facing form
	req       repository.SymbolRequest
	createdAt time.Time
	waiters   []chan *models.IndicatorSnapshot
	done      bool
}

// addWaiter registers a completion handle. The channel is buffered so the
// resolver never blocks on a caller that already gave up.
func (p *pendingRequest) addWaiter() chan *models.IndicatorSnapshot {
	ch := make(chan *models.IndicatorSnapshot, 1)
	p.waiters = append(p.waiters, ch)
	return ch
}

// complete fans the snapshot out to every waiter exactly once.
func (p *pendingRequest) complete(snap *models.IndicatorSnapshot) {
	if p.done {
		return
	}
	p.done = true
	for _, w := range p.waiters {
		w <- snap
	}
	p.waiters = nil
}
