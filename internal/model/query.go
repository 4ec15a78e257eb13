package model

import (
	"time"

	"github.com/google/uuid"
)

// LogQuery carries the optional filters of a paged log listing. Every
// populated field narrows the result; zero values mean "no filter".
type LogQuery struct {
	Level         *Level
	Levels        []Level
	AppName       string
	Search        string
	Environment   string
	TraceID       string
	ProjectID     *uuid.UUID
	ExceptionType string
	Source        string
	UserID        string
	RequestMethod string
	StatusCodeMin *int
	StatusCodeMax *int
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// PatternQuery parameterizes pattern detection.
type PatternQuery struct {
	Hours    int
	MinCount int
	Limit    int
	Level    *Level
	Levels   []Level
	AppName  string
}

// AppLogQuery filters the app-log listing.
type AppLogQuery struct {
	Level    string
	Search   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// PagedResult is one page of T plus the total row count of the filter.
type PagedResult[T any] struct {
	Data       []T   `json:"data"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

// NewPagedResult derives TotalPages as ceil(total/pageSize).
func NewPagedResult[T any](data []T, total int64, page, pageSize int) PagedResult[T] {
	if data == nil {
		data = []T{}
	}
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return PagedResult[T]{
		Data:       data,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pages,
	}
}
