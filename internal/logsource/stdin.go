package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

func (c StdinConfig) withDefaults() StdinConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultStdinBuffer
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = DefaultStdinMaxLineSize
	}
	return c
}

// StdinSource reads lines from a pipe, normally the process stdin.
type StdinSource struct {
	out    chan model.IngestEnvelope
	cancel context.CancelFunc
}

// NewStdinSource starts reading os.Stdin in the background.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	var c StdinConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	c = c.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		out:    make(chan model.IngestEnvelope, c.BufferSize),
		cancel: cancel,
	}

	// Scanning blocks on an idle pipe, so it feeds an intermediate channel
	// and the pump below owns closing out.
	scanned := make(chan string)
	go func() {
		defer close(scanned)
		err := scanLines(r, c.MaxLineSize, func(line string) bool {
			select {
			case scanned <- line:
				return true
			case <-ctx.Done():
				return false
			}
		})
		switch {
		case errors.Is(err, bufio.ErrTooLong):
			log.Warn().Int("max_bytes", c.MaxLineSize).Msg("logsource: stdin line too long, stopping stdin source")
		case err != nil:
			log.Warn().Err(err).Msg("logsource: stdin read failed")
		}
	}()
	go s.pump(ctx, scanned)
	return s
}

// scanLines calls emit for every non-empty line until EOF, a read error or
// emit returning false.
func scanLines(r io.Reader, maxLineSize int, emit func(string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineSize)), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" && !emit(line) {
			return nil
		}
	}
	return scanner.Err()
}

func (s *StdinSource) pump(ctx context.Context, scanned <-chan string) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-scanned:
			if !ok {
				return
			}
			select {
			case s.out <- model.IngestEnvelope{Source: s.Name(), Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.out }
func (s *StdinSource) Stop()                              { s.cancel() }
func (s *StdinSource) Name() string                       { return "stdin" }
