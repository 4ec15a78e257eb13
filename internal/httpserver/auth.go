package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/model"
)

const (
	apiKeyHeader = "X-API-Key"
	projectKey   = "burrow.project"
)

// requireAPIKey resolves X-API-Key to a project. A key that is present but
// unknown or expired is always rejected; a missing key is rejected only
// when RequireAPIKey is set.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if key == "" || s.deps.Projects == nil {
			if s.conf.RequireAPIKey {
				unauthorized(c, "Missing or invalid API key")
				return
			}
			c.Next()
			return
		}

		p, err := s.deps.Projects.ValidateAPIKey(c.Request.Context(), key)
		if err != nil {
			log.Error().Err(err).Msg("httpserver: api key lookup failed")
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Service unavailable"})
			return
		}
		if p == nil {
			unauthorized(c, "Missing or invalid API key")
			return
		}
		c.Set(projectKey, p)
		c.Next()
	}
}

// requireAdmin checks the bearer token against the configured admin token.
func (s *Server) requireAdmin() gin.HandlerFunc {
	want := []byte(s.conf.AdminToken)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
			unauthorized(c, "Unauthorized")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
}

// projectFrom returns the project resolved by requireAPIKey, if any.
func projectFrom(c *gin.Context) *model.Project {
	v, ok := c.Get(projectKey)
	if !ok {
		return nil
	}
	p, _ := v.(*model.Project)
	return p
}
