// Package buffer implements the asynchronous ingestion queue: many producers
// enqueue without blocking and a single background loop persists the queue
// in bounded batches.
package buffer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// PersistFunc writes one batch to the store. It is never called
// concurrently by the same Buffer.
type PersistFunc[T any] func(ctx context.Context, batch []T) error

// State is the lifecycle position of a Buffer.
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Journal is the durable log a Buffer writes ahead of its queue.
type Journal[T any] interface {
	Append(record T) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// batchJournal is implemented by journals that can append several records
// with one sync.
type batchJournal[T any] interface {
	AppendBatch(records []T) (uint64, error)
}

// Config holds tunable parameters for a buffer.
type Config struct {
	Name          string
	BatchSize     int
	FlushInterval time.Duration
}

// Option customizes a Buffer.
type Option[T any] func(*Buffer[T])

// WithJournal journals every enqueued entry and commits the journal as
// batches are persisted.
func WithJournal[T any](j Journal[T]) Option[T] {
	return func(b *Buffer[T]) {
		b.journal = j
	}
}

type item[T any] struct {
	seq uint64
	v   T
}

// Buffer is an unbounded FIFO with a single periodic flusher. Failed
// batches are appended back to the tail of the queue and retried on a
// later tick.
type Buffer[T any] struct {
	name      string
	persist   PersistFunc[T]
	batchSize int
	interval  time.Duration

	mu    sync.Mutex
	queue []item[T]

	journal   Journal[T]
	journalMu sync.Mutex
	unacked   map[uint64]struct{}
	appended  uint64
	committed uint64

	state    atomic.Int32
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a buffer and starts its flush loop.
func New[T any](persist PersistFunc[T], conf Config, opts ...Option[T]) *Buffer[T] {
	b := &Buffer[T]{
		name:      conf.Name,
		persist:   persist,
		batchSize: conf.BatchSize,
		interval:  conf.FlushInterval,
		unacked:   make(map[uint64]struct{}),
		done:      make(chan struct{}),
	}
	if b.name == "" {
		b.name = "buffer"
	}
	if b.batchSize <= 0 {
		b.batchSize = 100
	}
	if b.interval <= 0 {
		b.interval = time.Second
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.loop()
	return b
}

// Enqueue appends one entry. It never blocks on store IO and never fails.
func (b *Buffer[T]) Enqueue(v T) {
	it := item[T]{v: v}
	if b.journal != nil {
		it.seq = b.journalAppend(v)
	}

	b.mu.Lock()
	b.queue = append(b.queue, it)
	b.mu.Unlock()
}

// EnqueueBatch appends every entry in order. A concurrent flush may pick up
// a prefix of vs.
func (b *Buffer[T]) EnqueueBatch(vs []T) {
	if len(vs) == 0 {
		return
	}
	bj, ok := b.journal.(batchJournal[T])
	if !ok {
		for _, v := range vs {
			b.Enqueue(v)
		}
		return
	}

	items := make([]item[T], len(vs))
	first := b.journalAppendBatch(bj, vs)
	for i, v := range vs {
		items[i] = item[T]{v: v}
		if first > 0 {
			items[i].seq = first + uint64(i)
		}
	}

	b.mu.Lock()
	b.queue = append(b.queue, items...)
	b.mu.Unlock()
}

// Len returns the current queue depth.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// State returns the lifecycle state.
func (b *Buffer[T]) State() State {
	return State(b.state.Load())
}

// Stop ends the flush loop after a final drain and closes the journal.
// Entries still queued after the drain are reported as lost. Stop is
// idempotent.
func (b *Buffer[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Error().Err(err).Str("buffer", b.name).Msg("buffer: journal close failed")
			}
		}
	})
}

func (b *Buffer[T]) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushOnce()
		case <-b.done:
			b.state.Store(int32(Draining))
			b.drain()
			b.state.Store(int32(Stopped))
			return
		}
	}
}

// drain flushes until the queue is empty or a batch fails.
func (b *Buffer[T]) drain() {
	for {
		n, err := b.flushOnce()
		if err != nil || n == 0 {
			break
		}
	}
	if lost := b.Len(); lost > 0 {
		ev := log.Warn().Str("buffer", b.name).Int("entries", lost)
		if b.journal != nil {
			ev.Msg("buffer: entries left unflushed at shutdown, kept in journal for replay")
		} else {
			ev.Msg("buffer: entries lost at shutdown")
		}
	}
}

// flushOnce dequeues up to batchSize entries and persists them in one call.
// On failure the batch goes back to the tail of the queue.
func (b *Buffer[T]) flushOnce() (int, error) {
	b.mu.Lock()
	n := min(len(b.queue), b.batchSize)
	if n == 0 {
		b.mu.Unlock()
		return 0, nil
	}
	batch := slices.Clone(b.queue[:n])
	b.queue = slices.Delete(b.queue, 0, n)
	b.mu.Unlock()

	values := make([]T, len(batch))
	for i, it := range batch {
		values[i] = it.v
	}

	if err := b.persist(context.Background(), values); err != nil {
		log.Error().Err(err).Str("buffer", b.name).Int("batch", n).Msg("buffer: flush failed, re-enqueueing batch")
		b.mu.Lock()
		b.queue = append(b.queue, batch...)
		b.mu.Unlock()
		return n, err
	}

	if b.journal != nil {
		b.journalAck(batch)
	}
	return n, nil
}

// journalAppend writes v ahead of the queue. A failed append is logged and
// the entry is queued untracked so ingestion never stalls on the journal.
func (b *Buffer[T]) journalAppend(v T) uint64 {
	b.journalMu.Lock()
	defer b.journalMu.Unlock()

	seq, err := b.journal.Append(v)
	if err != nil {
		log.Error().Err(err).Str("buffer", b.name).Msg("buffer: journal append failed")
		return 0
	}
	b.unacked[seq] = struct{}{}
	b.appended = seq
	return seq
}

// journalAppendBatch is journalAppend for a whole batch. It returns the
// first sequence, or 0 when the append failed.
func (b *Buffer[T]) journalAppendBatch(bj batchJournal[T], vs []T) uint64 {
	b.journalMu.Lock()
	defer b.journalMu.Unlock()

	first, err := bj.AppendBatch(vs)
	if err != nil {
		log.Error().Err(err).Str("buffer", b.name).Int("entries", len(vs)).Msg("buffer: journal append failed")
		return 0
	}
	for i := range vs {
		b.unacked[first+uint64(i)] = struct{}{}
	}
	b.appended = first + uint64(len(vs)) - 1
	return first
}

// journalAck commits the journal up to the highest sequence below which
// every appended entry has been persisted.
func (b *Buffer[T]) journalAck(batch []item[T]) {
	b.journalMu.Lock()
	defer b.journalMu.Unlock()

	for _, it := range batch {
		if it.seq > 0 {
			delete(b.unacked, it.seq)
		}
	}

	mark := b.appended
	for seq := range b.unacked {
		if seq-1 < mark {
			mark = seq - 1
		}
	}
	if mark <= b.committed {
		return
	}
	if err := b.journal.Commit(mark); err != nil {
		log.Error().Err(err).Str("buffer", b.name).Uint64("seq", mark).Msg("buffer: journal commit failed")
		return
	}
	b.committed = mark
}
