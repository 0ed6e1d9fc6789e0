package sink

import (
	"context"

	"fourkeys/internal/services/migrate/domain"
)

// DefaultBatchSize is how many events a Batcher buffers before inserting
const DefaultBatchSize = 50

// Inserter is the insert half of domain.Sink
type Inserter interface {
	Insert(ctx context.Context, evs ...domain.CanonicalEvent) (domain.InsertResult, error)
}

// Batcher buffers events and inserts them every size events.
// Not safe for concurrent use; each driver worker owns one.
type Batcher struct {
	sink Inserter
	size int
	buf  []domain.CanonicalEvent

	sent     int
	rejected int
}

// NewBatcher returns a Batcher; size <= 0 uses DefaultBatchSize
func NewBatcher(s Inserter, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{sink: s, size: size, buf: make([]domain.CanonicalEvent, 0, size)}
}

// Add buffers e and inserts the buffer once it is full
func (b *Batcher) Add(ctx context.Context, e domain.CanonicalEvent) error {
	b.buf = append(b.buf, e)
	if len(b.buf) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush inserts whatever is buffered
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	res, err := b.sink.Insert(ctx, b.buf...)
	b.buf = b.buf[:0]
	b.sent += res.Sent
	b.rejected += len(res.Rejected)
	return err
}

// Pending is the number of buffered events
func (b *Batcher) Pending() int { return len(b.buf) }

// Stats returns rows sent and rows rejected so far
func (b *Batcher) Stats() (sent, rejected int) { return b.sent, b.rejected }
