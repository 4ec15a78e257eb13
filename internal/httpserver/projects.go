package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/project"
)

type createProjectRequest struct {
	Name       string `json:"name" binding:"required"`
	ExpiryDays *int   `json:"expiryDays"`
}

type renameProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.deps.Projects.List(c.Request.Context())
	if err != nil {
		internalError(c, err, "list projects failed")
		return
	}
	c.JSON(http.StatusOK, nonNil(projects))
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Project name is required")
		return
	}
	p, err := s.deps.Projects.Create(c.Request.Context(), req.Name, req.ExpiryDays)
	if err != nil {
		if errors.Is(err, project.ErrInvalidName) || errors.Is(err, project.ErrInvalidTTL) {
			badRequest(c, err.Error())
			return
		}
		internalError(c, err, "create project failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "project": p, "apiKey": p.APIKey})
}

func (s *Server) handleRenameProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid project id")
		return
	}
	var req renameProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Project name is required")
		return
	}
	if err := s.deps.Projects.Rename(c.Request.Context(), id, req.Name); err != nil {
		s.projectError(c, err, "rename project failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Project updated"})
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid project id")
		return
	}
	if err := s.deps.Projects.Delete(c.Request.Context(), id); err != nil {
		s.projectError(c, err, "delete project failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Project deleted"})
}

func (s *Server) projectError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Project not found"})
	case errors.Is(err, project.ErrInvalidName):
		badRequest(c, err.Error())
	default:
		internalError(c, err, msg)
	}
}
