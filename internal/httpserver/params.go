package httpserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/model"
)

type logParams struct {
	Level         string     `form:"level"`
	Levels        string     `form:"levels"`
	AppName       string     `form:"appName"`
	Search        string     `form:"search"`
	Environment   string     `form:"environment"`
	TraceID       string     `form:"traceId"`
	ProjectID     string     `form:"projectId"`
	ExceptionType string     `form:"exceptionType"`
	Source        string     `form:"source"`
	UserID        string     `form:"userId"`
	RequestMethod string     `form:"requestMethod"`
	StatusCodeMin *int       `form:"statusCodeMin"`
	StatusCodeMax *int       `form:"statusCodeMax"`
	From          *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page          int        `form:"page"`
	PageSize      int        `form:"pageSize"`
}

type patternParams struct {
	Hours    int    `form:"hours" binding:"omitempty,min=1,max=720"`
	MinCount int    `form:"minCount" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Level    string `form:"level"`
	Levels   string `form:"levels"`
	AppName  string `form:"appName"`
}

type appLogParams struct {
	Level    string     `form:"level"`
	Search   string     `form:"search"`
	From     *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int        `form:"page"`
	PageSize int        `form:"pageSize"`
}

type deleteParams struct {
	OlderThanDays *int `form:"olderThanDays" binding:"omitempty,min=0"`
}

// clampPage applies the listing bounds: page >= 1, 1 <= size <= MaxPageSize.
func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = model.DefaultPageSize
	case size > model.MaxPageSize:
		size = model.MaxPageSize
	}
	return page, size
}

func parseLevel(s string) (*model.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	l, err := model.ParseLevel(s)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// parseLevels reads a comma-separated level list, skipping empty items.
func parseLevels(s string) ([]model.Level, error) {
	var levels []model.Level
	for _, name := range strings.Split(s, ",") {
		l, err := parseLevel(name)
		if err != nil {
			return nil, err
		}
		if l != nil {
			levels = append(levels, *l)
		}
	}
	return levels, nil
}

func bindLogQuery(c *gin.Context) (model.LogQuery, error) {
	var p logParams
	if err := c.ShouldBindQuery(&p); err != nil {
		return model.LogQuery{}, err
	}

	q := model.LogQuery{
		AppName:       strings.TrimSpace(p.AppName),
		Search:        p.Search,
		Environment:   strings.TrimSpace(p.Environment),
		TraceID:       strings.TrimSpace(p.TraceID),
		ExceptionType: p.ExceptionType,
		Source:        p.Source,
		UserID:        p.UserID,
		RequestMethod: p.RequestMethod,
		StatusCodeMin: p.StatusCodeMin,
		StatusCodeMax: p.StatusCodeMax,
		From:          p.From,
		To:            p.To,
	}
	q.Page, q.PageSize = clampPage(p.Page, p.PageSize)

	level, err := parseLevel(p.Level)
	if err != nil {
		return q, err
	}
	q.Level = level
	if q.Levels, err = parseLevels(p.Levels); err != nil {
		return q, err
	}

	if id := strings.TrimSpace(p.ProjectID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return q, fmt.Errorf("invalid projectId %q", id)
		}
		q.ProjectID = &parsed
	}
	return q, nil
}

func bindPatternQuery(c *gin.Context) (model.PatternQuery, error) {
	var p patternParams
	if err := c.ShouldBindQuery(&p); err != nil {
		return model.PatternQuery{}, err
	}
	q := model.PatternQuery{
		Hours:    p.Hours,
		MinCount: p.MinCount,
		Limit:    p.Limit,
		AppName:  strings.TrimSpace(p.AppName),
	}
	level, err := parseLevel(p.Level)
	if err != nil {
		return q, err
	}
	q.Level = level
	if q.Levels, err = parseLevels(p.Levels); err != nil {
		return q, err
	}
	return q, nil
}

func bindAppLogQuery(c *gin.Context) (model.AppLogQuery, error) {
	var p appLogParams
	if err := c.ShouldBindQuery(&p); err != nil {
		return model.AppLogQuery{}, err
	}
	q := model.AppLogQuery{
		Level:  strings.TrimSpace(p.Level),
		Search: p.Search,
		From:   p.From,
		To:     p.To,
	}
	q.Page, q.PageSize = clampPage(p.Page, p.PageSize)
	return q, nil
}
