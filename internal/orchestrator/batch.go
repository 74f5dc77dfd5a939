package orchestrator

import "time"

// BatchAggregator groups queued requests into one bulk provider call when the
// plan tier permits. A batch collects requests sharing the front item's
// interval and exchange; the collection delay lets near-simultaneous enqueues
// join the same batch.
type BatchAggregator struct {
	batchSize int
	delay     time.Duration
}

// NewBatchAggregator creates an aggregator. batchSize is the configured
// ceiling; the effective size is further capped by the plan tier.
func NewBatchAggregator(batchSize int, delay time.Duration) *BatchAggregator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchAggregator{batchSize: batchSize, delay: delay}
}

// Delay returns the batch collection delay.
func (a *BatchAggregator) Delay() time.Duration {
	return a.delay
}

// Size returns the configured batch size ceiling.
func (a *BatchAggregator) Size() int {
	return a.batchSize
}

// Plan splits the queue into one batch and the remaining queue. The batch
// takes up to maxSize requests matching the front item's interval and
// exchange; everything else keeps its submission order. Requests batched
// together are serviced as one call, but never out of order relative to
// requests submitted after them.
func (a *BatchAggregator) Plan(queue []*pendingRequest, maxSize int) (batch, rest []*pendingRequest) {
	if len(queue) == 0 {
		return nil, queue
	}
	if maxSize > a.batchSize {
		maxSize = a.batchSize
	}
	if maxSize < 1 {
		maxSize = 1
	}

	head := queue[0]
	batch = make([]*pendingRequest, 0, maxSize)
	rest = make([]*pendingRequest, 0, len(queue))
	for _, p := range queue {
		if len(batch) < maxSize &&
			p.req.Interval == head.req.Interval &&
			p.req.Exchange == head.req.Exchange {
			batch = append(batch, p)
			continue
		}
		rest = append(rest, p)
	}
	return batch, rest
}
