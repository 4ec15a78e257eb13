package main

import (
	"context"
	"testing"
	"time"

	"github.com/tinytelemetry/burrow/internal/model"
)

type fakeSource struct {
	name    string
	lines   chan model.IngestEnvelope
	stopped chan struct{}
}

func newFakeSource(name string, buffer int) *fakeSource {
	return &fakeSource{
		name:    name,
		lines:   make(chan model.IngestEnvelope, buffer),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSource) Lines() <-chan model.IngestEnvelope { return s.lines }
func (s *fakeSource) Name() string                       { return s.name }

func (s *fakeSource) Stop() {
	select {
	case <-s.stopped:
		return
	default:
		close(s.stopped)
		close(s.lines)
	}
}

func TestSourceMultiplexer_ForwardsFromAllSources(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFakeSource("a", 3)
	b := newFakeSource("b", 2)

	mux := NewSourceMultiplexer(ctx, []NamedLogSource{a, b}, 16)
	mux.Start()
	defer mux.Stop()

	a.lines <- model.IngestEnvelope{Source: "a", Line: "alpha"}
	a.lines <- model.IngestEnvelope{Source: "a", Line: ""}
	b.lines <- model.IngestEnvelope{Source: "b", Line: "beta"}
	a.Stop()
	b.Stop()

	got := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-mux.Lines():
			if !ok {
				if len(got) != 2 || !got["alpha"] || !got["beta"] {
					t.Fatalf("lines = %+v, want alpha and beta only", got)
				}
				if counts := mux.Counts(); counts["a"] != 1 || counts["b"] != 1 {
					t.Fatalf("counts = %v, want a=1 b=1", counts)
				}
				return
			}
			got[env.Line] = true
		case <-timeout:
			t.Fatalf("timed out waiting for multiplexed lines: %+v", got)
		}
	}
}

func TestSourceMultiplexer_StopInvokesSourceStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource("x", 1)
	mux := NewSourceMultiplexer(ctx, []NamedLogSource{src}, 8)
	mux.Start()

	mux.Stop()
	mux.Stop()

	select {
	case <-src.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected source Stop() to be called")
	}
}

func TestSourceMultiplexer_NoSourcesClosesImmediately(t *testing.T) {
	t.Parallel()

	mux := NewSourceMultiplexer(context.Background(), nil, 0)
	mux.Start()
	if mux.HasSources() || len(mux.SourceNames()) != 0 {
		t.Fatal("expected no sources")
	}
	if _, ok := <-mux.Lines(); ok {
		t.Fatal("expected closed Lines")
	}
	mux.Stop()
}
