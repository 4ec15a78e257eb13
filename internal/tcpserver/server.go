// Package tcpserver accepts newline-delimited log lines over plain TCP.
package tcpserver

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/model"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "127.0.0.1:4000"

	// DefaultLineChannelSize is the default buffer size for the incoming line channel.
	DefaultLineChannelSize = 100_000

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024

	// DefaultMaxConns caps concurrently open producer connections.
	DefaultMaxConns = 1024
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	MaxConns        int
}

// Server listens for newline-delimited log lines. Each line is either an
// NDJSON log payload or plain text; decoding happens downstream.
type Server struct {
	listener    net.Listener
	addr        string
	lineChan    chan model.IngestEnvelope
	maxLineSize int
	slots       chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewServer creates a TCP server bound to addr once started.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	c := ServerConfig{
		LineChannelSize: DefaultLineChannelSize,
		MaxLineSize:     DefaultMaxLineSize,
		MaxConns:        DefaultMaxConns,
	}
	if len(conf) > 0 {
		c.LineChannelSize = cmp.Or(max(conf[0].LineChannelSize, 0), c.LineChannelSize)
		c.MaxLineSize = cmp.Or(max(conf[0].MaxLineSize, 0), c.MaxLineSize)
		c.MaxConns = cmp.Or(max(conf[0].MaxConns, 0), c.MaxConns)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		lineChan:    make(chan model.IngestEnvelope, c.LineChannelSize),
		maxLineSize: c.MaxLineSize,
		slots:       make(chan struct{}, c.MaxConns),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn().Err(err).Msg("tcpserver: accept failed")
				continue
			}
			select {
			case s.slots <- struct{}{}:
			default:
				log.Warn().Str("remote", conn.RemoteAddr().String()).Int("max_conns", cap(s.slots)).
					Msg("tcpserver: connection limit reached, rejecting")
				_ = conn.Close()
				continue
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("tcpserver: listening")
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.slots }()
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	remote := remoteHost(conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, s.maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case s.lineChan <- model.IngestEnvelope{Source: "tcp", Remote: remote, Line: line}:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Warn().Str("remote", remote).Int("max_bytes", s.maxLineSize).Msg("tcpserver: dropped connection, line too long")
			return
		}
		log.Warn().Err(err).Str("remote", remote).Msg("tcpserver: read failed")
	}
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Stop closes the listener, waits for open connections and closes Lines.
// Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		close(s.lineChan)
	})
	return nil
}

// Connections reports how many producer connections are open.
func (s *Server) Connections() int {
	return len(s.slots)
}

// Lines returns the channel of received lines.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lineChan
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
