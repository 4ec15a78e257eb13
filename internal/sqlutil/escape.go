package sqlutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Escape prepares s for use inside an E'...' string literal: backslashes
// and quotes are doubled or escaped, NUL bytes are dropped, and newline,
// carriage return and tab become their backslash escapes.
func Escape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`''`)
		case 0:
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Quote renders s as an escaped string literal.
func Quote(s string) string {
	return "E'" + Escape(s) + "'"
}

// EscapeLike escapes LIKE metacharacters so s matches literally under
// ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SafeInt clamps v into [lo, hi].
func SafeInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SafeUUID returns the canonical form of s when it is a valid UUID.
func SafeUUID(s string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// SafeWhitelist returns the allowed spelling of v, matched case-insensitively.
func SafeWhitelist(v string, allowed []string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a, true
		}
	}
	return "", false
}

// Interpolate substitutes bound arguments into query as escaped literals.
// The result is for diagnostics only and is never executed.
func Interpolate(query string, args []any) string {
	return interpolate(query, args, literal)
}

// Redact is Interpolate with text arguments masked, so API keys and message
// bodies stay out of logs. Numbers, times and NULLs are kept.
func Redact(query string, args []any) string {
	return interpolate(query, args, redacted)
}

func interpolate(query string, args []any, lit func(any) string) string {
	var sb strings.Builder
	sb.Grow(len(query))
	next := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote && next < len(args):
			sb.WriteString(lit(args[next]))
			next++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

const redactedText = "'<redacted>'"

func redacted(v any) string {
	switch v.(type) {
	case nil, bool, int, int32, int64, float64, time.Time, *int, *float64:
		return literal(v)
	default:
		return redactedText
	}
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return Quote(x)
	case []byte:
		return Quote(string(x))
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return Quote(x.UTC().Format("2006-01-02 15:04:05.000000"))
	case *int:
		if x == nil {
			return "NULL"
		}
		return strconv.Itoa(*x)
	case *float64:
		if x == nil {
			return "NULL"
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case fmt.Stringer:
		return Quote(x.String())
	default:
		return Quote(fmt.Sprint(x))
	}
}
