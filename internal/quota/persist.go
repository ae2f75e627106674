package quota

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Snapshot of one bucket, queued for write-behind persistence.
type BucketSnapshot struct {
	Identity          string  `json:"identity"`
	Tier              Tier    `json:"tier"`
	AvailableTokens   float64 `json:"available_tokens"`
	LastRefill        int64   `json:"last_refill"`
	MonthStart        int64   `json:"month_start"`
	RequestsThisMonth uint64  `json:"requests_this_month"`
	TotalRequests     uint64  `json:"total_requests"`
}

// SnapshotWriter is the durable backend for bucket snapshots.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap BucketSnapshot) error
}

// Persister accepts snapshots without blocking.
type Persister interface {
	Enqueue(snap BucketSnapshot) bool
}

// AsyncPersister drains a bounded queue into a SnapshotWriter from a single
// background goroutine. The decision path only ever enqueues: when the queue
// is full the snapshot is dropped and counted, never waited on. A failed or
// dropped write cannot change a decision already returned to the caller.
type AsyncPersister struct {
	queue   chan BucketSnapshot
	writer  SnapshotWriter
	timeout time.Duration
	dropped atomic.Uint64
	done    chan struct{}
}

// NewAsyncPersister starts the drain goroutine. queueSize bounds how many
// snapshots can be pending before writes are dropped.
func NewAsyncPersister(writer SnapshotWriter, queueSize int) *AsyncPersister {
	if queueSize <= 0 {
		queueSize = 1024
	}

	p := &AsyncPersister{
		queue:   make(chan BucketSnapshot, queueSize),
		writer:  writer,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}

	go p.drain()
	return p
}

func (p *AsyncPersister) drain() {
	defer close(p.done)

	for snap := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.writer.WriteSnapshot(ctx, snap); err != nil {
			log.Printf("Failed to persist quota for %s: %v", snap.Identity, err)
		}
		cancel()
	}
}

// Enqueue queues a snapshot for persistence. Returns false when the queue is
// full and the snapshot was dropped.
func (p *AsyncPersister) Enqueue(snap BucketSnapshot) bool {
	select {
	case p.queue <- snap:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped reports how many snapshots were discarded on backpressure.
func (p *AsyncPersister) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting snapshots and waits for the queue to drain.
func (p *AsyncPersister) Close() {
	close(p.queue)
	<-p.done
}
