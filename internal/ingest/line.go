package ingest

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/logparse"
	"github.com/tinytelemetry/burrow/internal/model"
)

// DecodeLine turns one raw line into an entry. A JSON object that
// validates as a LogRequest (with appName defaulted to defaultApp) is
// decoded field by field; anything else is kept as plain text with the
// level read from the text. Blank lines yield ok=false.
func DecodeLine(env model.IngestEnvelope, defaultApp string, meta Meta) (entry model.LogEntry, ok bool) {
	line := strings.TrimSpace(env.Line)
	if line == "" {
		return model.LogEntry{}, false
	}
	if meta.Source == "" {
		meta.Source = env.Source
	}
	if meta.RemoteAddr == "" {
		meta.RemoteAddr = env.Remote
	}

	if strings.HasPrefix(line, "{") {
		var req LogRequest
		if err := json.Unmarshal([]byte(line), &req); err == nil {
			if strings.TrimSpace(req.AppName) == "" {
				req.AppName = defaultApp
			}
			if req.Validate() == nil {
				return req.ToEntry(meta), true
			}
		}
	}

	message := sanitize(line)
	e := model.LogEntry{
		ID:          uuid.New(),
		Level:       logparse.ExtractSeverityFromText(message),
		AppName:     defaultApp,
		Message:     message,
		Metadata:    model.DefaultMetadata,
		Environment: model.DefaultEnvironment,
	}
	stamp(&e, meta)
	return e, true
}
