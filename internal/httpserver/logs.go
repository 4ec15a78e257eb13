package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/burrow/internal/applog"
	"github.com/tinytelemetry/burrow/internal/logstore"
)

func invalidQuery(err error) bool {
	return errors.Is(err, logstore.ErrInvalidQuery) || errors.Is(err, applog.ErrInvalidQuery)
}

func (s *Server) handleGetLogs(c *gin.Context) {
	q, err := bindLogQuery(c)
	if err != nil {
		badRequest(c, "Invalid filter: "+err.Error())
		return
	}
	result, err := s.deps.Logs.GetPaged(c.Request.Context(), q)
	if err != nil {
		if invalidQuery(err) {
			badRequest(c, "Invalid filter")
			return
		}
		internalError(c, err, "query logs failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.deps.Logs.GetStats(c.Request.Context())
	if err != nil {
		internalError(c, err, "get stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleApps(c *gin.Context) {
	apps, err := s.deps.Logs.GetAppNames(c.Request.Context())
	if err != nil {
		internalError(c, err, "get apps failed")
		return
	}
	c.JSON(http.StatusOK, nonNil(apps))
}

func (s *Server) handleEnvironments(c *gin.Context) {
	envs, err := s.deps.Logs.GetEnvironments(c.Request.Context())
	if err != nil {
		internalError(c, err, "get environments failed")
		return
	}
	c.JSON(http.StatusOK, nonNil(envs))
}

func (s *Server) handlePatterns(c *gin.Context) {
	q, err := bindPatternQuery(c)
	if err != nil {
		badRequest(c, "Invalid filter: "+err.Error())
		return
	}
	patterns, err := s.deps.Logs.GetPatterns(c.Request.Context(), q)
	if err != nil {
		if invalidQuery(err) {
			badRequest(c, "Invalid filter")
			return
		}
		internalError(c, err, "get patterns failed")
		return
	}
	c.JSON(http.StatusOK, nonNil(patterns))
}

func (s *Server) handleTrace(c *gin.Context) {
	traceID := c.Param("traceId")
	timeline, err := s.deps.Logs.GetTraceTimeline(c.Request.Context(), traceID)
	if err != nil {
		internalError(c, err, "get trace timeline failed")
		return
	}
	if timeline == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trace not found"})
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleDeleteLogs(c *gin.Context) {
	var p deleteParams
	if err := c.ShouldBindQuery(&p); err != nil {
		badRequest(c, "olderThanDays must be a non-negative integer")
		return
	}
	if err := s.deps.Logs.DeleteLogs(c.Request.Context(), p.OlderThanDays); err != nil {
		if invalidQuery(err) {
			badRequest(c, "olderThanDays must be a non-negative integer")
			return
		}
		internalError(c, err, "delete logs failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": deletedMessage("Logs", p.OlderThanDays)})
}

func (s *Server) handleGetAppLogs(c *gin.Context) {
	q, err := bindAppLogQuery(c)
	if err != nil {
		badRequest(c, "Invalid filter: "+err.Error())
		return
	}
	result, err := s.deps.AppLogs.GetPaged(c.Request.Context(), q)
	if err != nil {
		if invalidQuery(err) {
			badRequest(c, "Invalid filter")
			return
		}
		internalError(c, err, "query app logs failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteAppLogs(c *gin.Context) {
	var p deleteParams
	if err := c.ShouldBindQuery(&p); err != nil {
		badRequest(c, "olderThanDays must be a non-negative integer")
		return
	}
	if err := s.deps.AppLogs.DeleteLogs(c.Request.Context(), p.OlderThanDays); err != nil {
		internalError(c, err, "delete app logs failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": deletedMessage("App logs", p.OlderThanDays)})
}

func deletedMessage(what string, olderThanDays *int) string {
	if olderThanDays == nil {
		return "All " + strings.ToLower(what) + " deleted"
	}
	return fmt.Sprintf("%s older than %d days deleted", what, *olderThanDays)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
