package logparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/burrow/internal/model"
)

// SeverityRegex matches common severity levels in log text.
var SeverityRegex = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

// NormalizeSeverity maps the many spellings producers use for a severity
// onto a Level. Unrecognized input is treated as Info.
func NormalizeSeverity(severity string) model.Level {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC", "VERBOSE":
		return model.LevelTrace
	case "DEBUG", "DEBU", "DBG", "DEB":
		return model.LevelDebug
	case "INFO", "INFORMATION", "INF":
		return model.LevelInfo
	case "WARN", "WARNING", "WRNG", "WRN":
		return model.LevelWarning
	case "ERROR", "ERR", "ERRO":
		return model.LevelError
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT":
		return model.LevelFatal
	case "PANIC", "PNC":
		return model.LevelFatal
	default:
		if len(normalized) >= 4 {
			prefix := normalized[:4]
			switch prefix {
			case "INFO":
				return model.LevelInfo
			case "WARN":
				return model.LevelWarning
			case "ERRO":
				return model.LevelError
			case "DEBU":
				return model.LevelDebug
			case "TRAC":
				return model.LevelTrace
			case "FATA", "CRIT":
				return model.LevelFatal
			}
		}
		return model.LevelInfo
	}
}

// ExtractSeverityFromText extracts a severity level from free message text.
func ExtractSeverityFromText(message string) model.Level {
	matches := SeverityRegex.FindStringSubmatch(message)
	if len(matches) > 1 {
		return NormalizeSeverity(matches[1])
	}
	return model.LevelInfo
}

// SeverityNumberToLevel converts an OpenTelemetry SeverityNumber (1-24) to a
// Level. Zero (unspecified) and out-of-range values yield ok=false.
func SeverityNumberToLevel(n int32) (level model.Level, ok bool) {
	switch {
	case n >= 1 && n <= 4:
		return model.LevelTrace, true
	case n >= 5 && n <= 8:
		return model.LevelDebug, true
	case n >= 9 && n <= 12:
		return model.LevelInfo, true
	case n >= 13 && n <= 16:
		return model.LevelWarning, true
	case n >= 17 && n <= 20:
		return model.LevelError, true
	case n >= 21 && n <= 24:
		return model.LevelFatal, true
	default:
		return model.LevelInfo, false
	}
}

// ParseLevel accepts canonical names, numeric levels and every alias
// NormalizeSeverity knows. It never fails; unknown input is Info.
func ParseLevel(s string) model.Level {
	if l, err := model.ParseLevel(s); err == nil {
		return l
	}
	return NormalizeSeverity(s)
}
