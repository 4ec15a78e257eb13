package applog

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/burrow/internal/model"
)

// Recorder accepts app-log entries.
type Recorder interface {
	Enqueue(e model.AppLogEntry)
}

const category = "burrow.http"

var skipPrefixes = []string{"/assets/", "/static/", "/favicon"}

// LevelForStatus maps a response status to an app-log level.
func LevelForStatus(status int) string {
	switch {
	case status >= 500:
		return model.AppLevelError
	case status >= 400:
		return model.AppLevelWarning
	default:
		return model.AppLevelInformation
	}
}

// RequestLogger records every served request into rec. Static asset
// requests are skipped. A panicking handler is recorded at error level
// with the panic value as its exception, then the panic continues to the
// recovery middleware registered ahead of this one.
func RequestLogger(rec Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range skipPrefixes {
			if strings.HasPrefix(path, p) {
				c.Next()
				return
			}
		}

		start := time.Now()
		defer func() {
			r := recover()
			status := c.Writer.Status()
			if r != nil {
				status = http.StatusInternalServerError
			}
			rec.Enqueue(entryFor(c, path, status, time.Since(start), r))
			if r != nil {
				panic(r)
			}
		}()
		c.Next()
	}
}

// entryFor builds the app-log entry for one request. The timestamp is
// left unset so the repository stamps it at flush.
func entryFor(c *gin.Context, path string, status int, elapsed time.Duration, panicked any) model.AppLogEntry {
	durationMs := float64(elapsed) / float64(time.Millisecond)
	method := c.Request.Method
	e := model.AppLogEntry{
		Level:         LevelForStatus(status),
		Category:      category,
		Message:       fmt.Sprintf("%s %s -> %d (%.0fms)", method, path, status, durationMs),
		RequestMethod: method,
		RequestPath:   path,
		StatusCode:    &status,
		DurationMs:    &durationMs,
	}
	var exc []string
	if panicked != nil {
		exc = append(exc, fmt.Sprintf("panic: %v", panicked))
	}
	if len(c.Errors) > 0 {
		exc = append(exc, c.Errors.String())
	}
	e.Exception = strings.Join(exc, "\n")
	return e
}
