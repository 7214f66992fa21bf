package framebuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kepler-linecount-go/internal/models"
)

var (
	// ErrClosed is returned by Pop and PopBatch once the buffer is closed and
	// cannot satisfy the request.
	ErrClosed = errors.New("frame buffer closed")

	// ErrInvalidSize is returned for capacities, purge sizes or batch sizes
	// the buffer cannot honour.
	ErrInvalidSize = errors.New("invalid frame buffer size")
)

// Stats is a point-in-time view of the buffer counters
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	PurgeSize   int    `json:"purge_size"`
	Pushed      uint64 `json:"pushed"`
	Popped      uint64 `json:"popped"`
	Purged      uint64 `json:"purged"`
	PurgeEvents uint64 `json:"purge_events"`
	Rejected    uint64 `json:"rejected"`
	Closed      bool   `json:"closed"`
}

// Buffer is a bounded FIFO of frames shared by every camera and drained by
// the dispatcher. Pushing never blocks: when the buffer grows past its
// capacity the oldest purgeSize slots are thrown away.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring  []models.BufferSlot
	head  int
	count int

	capacity  int
	purgeSize int
	closed    bool

	pushed      uint64
	popped      uint64
	purged      uint64
	purgeEvents uint64
	rejected    uint64

	purgeLog zerolog.Logger
}

// New creates a buffer. capacity must be larger than purgeSize and purgeSize
// must be positive.
func New(capacity, purgeSize int) (*Buffer, error) {
	if purgeSize <= 0 || capacity <= purgeSize {
		return nil, fmt.Errorf("%w: capacity=%d purge_size=%d", ErrInvalidSize, capacity, purgeSize)
	}

	b := &Buffer{
		ring:      make([]models.BufferSlot, capacity+1),
		capacity:  capacity,
		purgeSize: purgeSize,
		purgeLog: log.With().Str("component", "frame_buffer").Logger().
			Sample(&zerolog.BurstSampler{Burst: 1, Period: 5 * time.Second}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Push appends a slot. If that takes the buffer past capacity the oldest
// purgeSize slots are dropped before Push returns.
func (b *Buffer) Push(slot models.BufferSlot) {
	b.mu.Lock()
	if b.closed {
		b.rejected++
		b.mu.Unlock()
		return
	}

	b.ring[(b.head+b.count)%len(b.ring)] = slot
	b.count++
	b.pushed++

	purged := 0
	if b.count > b.capacity {
		for purged < b.purgeSize {
			b.ring[b.head] = models.BufferSlot{}
			b.head = (b.head + 1) % len(b.ring)
			b.count--
			purged++
		}
		b.purged += uint64(purged)
		b.purgeEvents++
	}
	length := b.count
	b.cond.Broadcast()
	b.mu.Unlock()

	if purged > 0 {
		b.purgeLog.Warn().
			Int("purged", purged).
			Int("length", length).
			Int("capacity", b.capacity).
			Msg("Frame buffer over capacity, purged oldest frames")
	}
}

// Pop removes the oldest slot, blocking until one is available, the context
// is done or the buffer is closed and empty.
func (b *Buffer) Pop(ctx context.Context) (models.BufferSlot, error) {
	stop := context.AfterFunc(ctx, b.wake)
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 {
		if b.closed {
			return models.BufferSlot{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return models.BufferSlot{}, err
		}
		b.cond.Wait()
	}

	return b.popLocked(), nil
}

// PopBatch removes exactly n slots in FIFO order, blocking until n slots are
// buffered. With flushAfter > 0 it gives up waiting for a full batch once
// flushAfter has elapsed and returns whatever is buffered (at least one slot).
func (b *Buffer) PopBatch(ctx context.Context, n int, flushAfter time.Duration) ([]models.BufferSlot, error) {
	if n <= 0 || n > b.capacity {
		return nil, fmt.Errorf("%w: batch size %d with capacity %d", ErrInvalidSize, n, b.capacity)
	}

	stop := context.AfterFunc(ctx, b.wake)
	defer stop()

	expired := false
	if flushAfter > 0 {
		timer := time.AfterFunc(flushAfter, func() {
			b.mu.Lock()
			expired = true
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer timer.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count < n {
		if b.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if expired && b.count > 0 {
			break
		}
		b.cond.Wait()
	}

	take := min(n, b.count)
	batch := make([]models.BufferSlot, take)
	for i := range batch {
		batch[i] = b.popLocked()
	}
	return batch, nil
}

func (b *Buffer) popLocked() models.BufferSlot {
	slot := b.ring[b.head]
	b.ring[b.head] = models.BufferSlot{}
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.popped++
	return slot
}

func (b *Buffer) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Len returns the number of buffered slots
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the configured high-water mark
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Close wakes every waiter. Later pushes are rejected; buffered slots can
// still be popped one at a time.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Stats returns a snapshot of the buffer counters
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Length:      b.count,
		Capacity:    b.capacity,
		PurgeSize:   b.purgeSize,
		Pushed:      b.pushed,
		Popped:      b.popped,
		Purged:      b.purged,
		PurgeEvents: b.purgeEvents,
		Rejected:    b.rejected,
		Closed:      b.closed,
	}
}
