// Package logsource unifies the line-oriented inputs (stdin, TCP) behind a
// single channel interface.
package logsource

import "github.com/tinytelemetry/burrow/internal/model"

// LogSource is a stream of raw lines from one input.
type LogSource interface {
	Lines() <-chan model.IngestEnvelope
	Stop()
	Name() string
}
