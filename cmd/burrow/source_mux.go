package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/burrow/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer fans every line source into one channel and counts
// what each source delivered.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources   []NamedLogSource
	forwarded []atomic.Int64
	lines     chan model.IngestEnvelope
	group     *errgroup.Group
	gctx      context.Context

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewSourceMultiplexer(parent context.Context, sources []NamedLogSource, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	return &SourceMultiplexer{
		ctx:       ctx,
		cancel:    cancel,
		sources:   sources,
		forwarded: make([]atomic.Int64, len(sources)),
		lines:     make(chan model.IngestEnvelope, buffer),
		group:     group,
		gctx:      gctx,
		done:      make(chan struct{}),
	}
}

// Start forwards every source into Lines. Lines is closed once all
// sources are exhausted or the multiplexer is stopped.
func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		for i, src := range m.sources {
			m.group.Go(func() error {
				m.forward(src, &m.forwarded[i])
				return nil
			})
		}
		go func() {
			_ = m.group.Wait()
			m.closeOutput()
			close(m.done)
		}()
	})
}

// Stop stops every source and waits for Lines to close.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.Start()
		<-m.done
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

// SourceNames lists the sources in registration order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		names = append(names, src.Name())
	}
	return names
}

// Counts returns the number of lines forwarded per source name.
func (m *SourceMultiplexer) Counts() map[string]int64 {
	out := make(map[string]int64, len(m.sources))
	for i, src := range m.sources {
		out[src.Name()] += m.forwarded[i].Load()
	}
	return out
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.lines
}

func (m *SourceMultiplexer) forward(src NamedLogSource, count *atomic.Int64) {
	in := src.Lines()
	for {
		var env model.IngestEnvelope
		var ok bool
		select {
		case <-m.gctx.Done():
			return
		case env, ok = <-in:
			if !ok {
				return
			}
		}
		if strings.TrimSpace(env.Line) == "" {
			continue
		}
		select {
		case m.lines <- env:
			count.Add(1)
		case <-m.gctx.Done():
			return
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.lines)
	})
}
