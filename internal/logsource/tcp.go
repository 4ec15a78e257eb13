package logsource

import (
	"github.com/tinytelemetry/burrow/internal/model"
	"github.com/tinytelemetry/burrow/internal/tcpserver"
)

// TCPSource wraps a started tcpserver.Server as a LogSource.
type TCPSource struct {
	server *tcpserver.Server
}

func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }
func (t *TCPSource) Stop()                              { _ = t.server.Stop() }
func (t *TCPSource) Name() string                       { return "tcp" }
