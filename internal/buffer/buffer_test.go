package buffer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/burrow/internal/journal"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]int
	failN   int // fail this many calls before succeeding
	calls   int
}

func (f *fakeStore) persist(_ context.Context, batch []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failN > 0 {
		f.failN--
		return errors.New("store unavailable")
	}
	f.batches = append(f.batches, append([]int(nil), batch...))
	return nil
}

func (f *fakeStore) persisted() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func assertExactlyOnce(t *testing.T, got []int, n int) {
	t.Helper()
	seen := make(map[int]int, len(got))
	for _, v := range got {
		seen[v]++
	}
	for i := 0; i < n; i++ {
		if seen[i] != 1 {
			t.Errorf("entry %d persisted %d times, want 1", i, seen[i])
		}
	}
	if len(got) != n {
		t.Errorf("persisted %d entries, want %d", len(got), n)
	}
}

// idle returns a buffer whose ticker will not fire during the test, so
// flushes happen only when the test calls flushOnce or Stop.
func idle(f *fakeStore, batch int) *Buffer[int] {
	return New(f.persist, Config{Name: "test", BatchSize: batch, FlushInterval: time.Hour})
}

func TestEveryEntryPersistedExactlyOnce(t *testing.T) {
	f := &fakeStore{}
	b := New(f.persist, Config{Name: "test", BatchSize: 7, FlushInterval: 5 * time.Millisecond})
	defer b.Stop()

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	total := producers * perProducer
	waitFor(t, 5*time.Second, func() bool { return len(f.persisted()) >= total })
	assertExactlyOnce(t, f.persisted(), total)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, batch := range f.batches {
		if len(batch) > 7 {
			t.Errorf("batch %d has %d entries, max 7", i, len(batch))
		}
	}
}

func TestSingleFailureIsRetried(t *testing.T) {
	f := &fakeStore{failN: 1}
	b := New(f.persist, Config{Name: "test", BatchSize: 4, FlushInterval: 5 * time.Millisecond})
	defer b.Stop()

	b.EnqueueBatch([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	waitFor(t, 5*time.Second, func() bool { return len(f.persisted()) >= 10 })
	assertExactlyOnce(t, f.persisted(), 10)
}

func TestFlushOnceTakesBoundedFIFOBatch(t *testing.T) {
	f := &fakeStore{}
	b := idle(f, 2)
	defer b.Stop()

	b.EnqueueBatch([]int{10, 11, 12, 13, 14})

	n, err := b.flushOnce()
	if err != nil || n != 2 {
		t.Fatalf("flushOnce = (%d, %v), want (2, nil)", n, err)
	}
	if got := f.persisted(); !reflect.DeepEqual(got, []int{10, 11}) {
		t.Errorf("first batch = %v, want [10 11]", got)
	}
	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
}

func TestFlushOnceEmptyQueueSkipsStore(t *testing.T) {
	f := &fakeStore{}
	b := idle(f, 2)
	defer b.Stop()

	n, err := b.flushOnce()
	if n != 0 || err != nil {
		t.Fatalf("flushOnce on empty = (%d, %v)", n, err)
	}
	if f.calls != 0 {
		t.Errorf("store called %d times for an empty queue", f.calls)
	}
}

func TestFailedBatchMovesToTail(t *testing.T) {
	f := &fakeStore{failN: 1}
	b := idle(f, 2)
	defer b.Stop()

	b.EnqueueBatch([]int{1, 2})
	if _, err := b.flushOnce(); err == nil {
		t.Fatal("expected flush failure")
	}
	b.Enqueue(3)

	b.mu.Lock()
	var order []int
	for _, it := range b.queue {
		order = append(order, it.v)
	}
	b.mu.Unlock()

	if !reflect.DeepEqual(order, []int{3, 1, 2}) {
		t.Errorf("queue after failure = %v, want [3 1 2]", order)
	}
}

func TestStopDrainsRemainingBatches(t *testing.T) {
	f := &fakeStore{}
	b := idle(f, 3)

	b.EnqueueBatch([]int{0, 1, 2, 3, 4, 5, 6})
	if b.State() != Running {
		t.Fatalf("State = %v, want running", b.State())
	}

	b.Stop()
	b.Stop()

	if b.State() != Stopped {
		t.Errorf("State = %v, want stopped", b.State())
	}
	assertExactlyOnce(t, f.persisted(), 7)
	if b.Len() != 0 {
		t.Errorf("Len after Stop = %d, want 0", b.Len())
	}
}

func TestStopLeavesEntriesWhenStoreDown(t *testing.T) {
	f := &fakeStore{failN: 1000}
	b := idle(f, 2)

	b.EnqueueBatch([]int{1, 2, 3})
	b.Stop()

	if f.calls != 1 {
		t.Errorf("store called %d times during drain, want 1", f.calls)
	}
	if b.Len() != 3 {
		t.Errorf("Len after failed drain = %d, want 3", b.Len())
	}
}

type fakeJournal struct {
	mu      sync.Mutex
	next    uint64
	commits []uint64
	failAt  map[int]bool
	closed  bool
}

func (j *fakeJournal) Append(v int) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failAt[v] {
		return 0, fmt.Errorf("disk full")
	}
	j.next++
	return j.next, nil
}

func (j *fakeJournal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.commits = append(j.commits, seq)
	return nil
}

func (j *fakeJournal) Close() error {
	j.closed = true
	return nil
}

func TestJournalCommitsLowWatermark(t *testing.T) {
	f := &fakeStore{}
	j := &fakeJournal{}
	b := New(f.persist, Config{Name: "test", BatchSize: 1, FlushInterval: time.Hour}, WithJournal[int](j))

	b.EnqueueBatch([]int{1, 2, 3}) // seq 1, 2, 3

	if _, err := b.flushOnce(); err != nil { // persists 1
		t.Fatalf("flush 1: %v", err)
	}
	f.failN = 1
	if _, err := b.flushOnce(); err == nil { // 2 fails, moves to tail
		t.Fatal("expected failure for entry 2")
	}
	if _, err := b.flushOnce(); err != nil { // persists 3
		t.Fatalf("flush 3: %v", err)
	}
	if _, err := b.flushOnce(); err != nil { // persists 2
		t.Fatalf("flush 2: %v", err)
	}

	if !reflect.DeepEqual(j.commits, []uint64{1, 3}) {
		t.Errorf("commits = %v, want [1 3]", j.commits)
	}

	b.Stop()
	if !j.closed {
		t.Error("journal not closed on Stop")
	}
}

func TestJournalAppendFailureStillQueues(t *testing.T) {
	f := &fakeStore{}
	j := &fakeJournal{failAt: map[int]bool{7: true}}
	b := New(f.persist, Config{Name: "test", BatchSize: 10, FlushInterval: time.Hour}, WithJournal[int](j))

	b.Enqueue(7)
	b.Enqueue(8)
	b.Stop()

	if got := f.persisted(); !reflect.DeepEqual(got, []int{7, 8}) {
		t.Errorf("persisted = %v, want [7 8]", got)
	}
	if !reflect.DeepEqual(j.commits, []uint64{1}) {
		t.Errorf("commits = %v, want [1]", j.commits)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Running: "running", Draining: "draining", Stopped: "stopped", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestEnqueueBatchUsesBatchJournal(t *testing.T) {
	f := &fakeStore{}
	j, err := journal.Open[int](filepath.Join(t.TempDir(), "buffer.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	b := New(f.persist, Config{Name: "test", BatchSize: 2, FlushInterval: time.Hour}, WithJournal[int](j))

	b.EnqueueBatch([]int{1, 2, 3})
	b.EnqueueBatch(nil)
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if _, err := b.flushOnce(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if j.Committed() != 2 {
		t.Fatalf("committed = %d, want 2", j.Committed())
	}

	b.Stop()
	if got := f.persisted(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("persisted = %v, want [1 2 3]", got)
	}
}
