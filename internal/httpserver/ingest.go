package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/burrow/internal/ingest"
	"github.com/tinytelemetry/burrow/internal/model"
)

func (s *Server) meta(c *gin.Context, source string) ingest.Meta {
	return ingest.Meta{
		Project:    projectFrom(c),
		RemoteAddr: c.ClientIP(),
		Source:     source,
	}
}

func (s *Server) handlePostLog(c *gin.Context) {
	var req ingest.LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid log payload: message and appName are required")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	entry := req.ToEntry(s.meta(c, model.SourceHTTP))
	s.deps.Ingest.Enqueue(entry)
	c.JSON(http.StatusOK, gin.H{"success": true, "id": entry.ID})
}

func (s *Server) handlePostBatch(c *gin.Context) {
	var req ingest.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid batch payload: logs must be a non-empty list of valid entries")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	meta := s.meta(c, model.SourceHTTP)
	entries := make([]model.LogEntry, 0, len(req.Logs))
	for i := range req.Logs {
		entries = append(entries, req.Logs[i].ToEntry(meta))
	}
	s.deps.Ingest.EnqueueBatch(entries)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(entries)})
}

// handleOTLP implements the OTLP/HTTP logs endpoint for protobuf and JSON
// encodings, optionally gzip-compressed.
func (s *Server) handleOTLP(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errBodyTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "Payload too large"})
			return
		}
		badRequest(c, "Unreadable request body")
		return
	}

	contentType := c.ContentType()
	req, err := ingest.DecodeOTLP(body, contentType)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	entries := ingest.FromOTLP(req, s.meta(c, model.SourceOTLP))
	if len(entries) > 0 {
		s.deps.Ingest.EnqueueBatch(entries)
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if strings.HasPrefix(contentType, "application/json") {
		out, err := protojson.Marshal(resp)
		if err != nil {
			internalError(c, err, "encode otlp response failed")
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}
	out, err := proto.Marshal(resp)
	if err != nil {
		internalError(c, err, "encode otlp response failed")
		return
	}
	c.Data(http.StatusOK, "application/x-protobuf", out)
}

// errBodyTooLarge reports a gzip body that inflates past maxBodyBytes.
var errBodyTooLarge = errors.New("httpserver: decompressed body exceeds limit")

func readBody(c *gin.Context) ([]byte, error) {
	if !strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
		return io.ReadAll(c.Request.Body)
	}
	zr, err := gzip.NewReader(c.Request.Body)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	body, err := io.ReadAll(io.LimitReader(zr, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}
