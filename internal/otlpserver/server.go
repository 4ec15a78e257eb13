// Package otlpserver receives OTLP log exports over gRPC.
package otlpserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/tinytelemetry/burrow/internal/ingest"
	"github.com/tinytelemetry/burrow/internal/model"
)

const (
	// DefaultAddr is the conventional OTLP/gRPC endpoint.
	DefaultAddr = "127.0.0.1:4317"

	apiKeyMetadata = "x-api-key"
	maxRecvBytes   = 16 << 20
)

// Enqueuer accepts mapped entries for asynchronous persistence.
type Enqueuer interface {
	EnqueueBatch(es []model.LogEntry)
}

// KeyValidator resolves an API key to a project, nil when unknown.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, key string) (*model.Project, error)
}

// Config controls the listener and the auth policy.
type Config struct {
	Addr          string
	RequireAPIKey bool
}

// Server implements the OTLP LogsService.
type Server struct {
	collogspb.UnimplementedLogsServiceServer

	conf     Config
	queue    Enqueuer
	keys     KeyValidator
	grpc     *grpc.Server
	listener net.Listener
}

// NewServer creates a receiver. keys may be nil when no project store is
// configured, in which case every key is unknown.
func NewServer(conf Config, queue Enqueuer, keys KeyValidator) *Server {
	if conf.Addr == "" {
		conf.Addr = DefaultAddr
	}
	s := &Server{conf: conf, queue: queue, keys: keys}
	s.grpc = grpc.NewServer(grpc.MaxRecvMsgSize(maxRecvBytes))
	collogspb.RegisterLogsServiceServer(s.grpc, s)
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return err
	}
	s.serve(listener)
	log.Info().Str("addr", listener.Addr().String()).Msg("otlpserver: listening")
	return nil
}

func (s *Server) serve(listener net.Listener) {
	s.listener = listener
	go func() {
		if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("otlpserver: serve failed")
		}
	}()
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.conf.Addr
}

// Stop drains in-flight exports, forcing the shutdown after five seconds.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.grpc.Stop()
	}
}

// Export maps every record of req to a log entry and enqueues them.
func (s *Server) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	p, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	meta := ingest.Meta{Project: p, Source: model.SourceOTLP}
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		meta.RemoteAddr = hostOnly(pr.Addr.String())
	}

	entries := ingest.FromOTLP(req, meta)
	if len(entries) > 0 {
		s.queue.EnqueueBatch(entries)
	}
	return &collogspb.ExportLogsServiceResponse{}, nil
}

func (s *Server) authenticate(ctx context.Context) (*model.Project, error) {
	var key string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(apiKeyMetadata); len(vals) > 0 {
			key = strings.TrimSpace(vals[0])
		}
	}
	if key == "" || s.keys == nil {
		if s.conf.RequireAPIKey {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid API key")
		}
		return nil, nil
	}

	p, err := s.keys.ValidateAPIKey(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("otlpserver: api key lookup failed")
		return nil, status.Error(codes.Unavailable, "service unavailable")
	}
	if p == nil {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid API key")
	}
	return p, nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
