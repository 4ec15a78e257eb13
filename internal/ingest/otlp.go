package ingest

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/burrow/internal/logparse"
	"github.com/tinytelemetry/burrow/internal/model"
)

// UnknownApp names entries whose resource carries no service name.
const UnknownApp = "unknown"

// Attribute keys lifted out of the metadata blob into entry fields. The
// first present key of each list wins.
var (
	appKeys        = []string{"service.name", "app", "service_name", "service"}
	hostKeys       = []string{"host.name", "host"}
	envKeys        = []string{"deployment.environment.name", "deployment.environment", "environment"}
	userKeys       = []string{"enduser.id", "user.id"}
	methodKeys     = []string{"http.request.method", "http.method"}
	pathKeys       = []string{"url.path", "http.target", "http.route"}
	statusKeys     = []string{"http.response.status_code", "http.status_code"}
	excTypeKeys    = []string{"exception.type"}
	excMessageKeys = []string{"exception.message"}
	excStackKeys   = []string{"exception.stacktrace"}
)

// FromOTLP flattens an OTLP export into entries. Resource and scope
// attributes are inherited by every record beneath them.
func FromOTLP(req *collogspb.ExportLogsServiceRequest, meta Meta) []model.LogEntry {
	var out []model.LogEntry
	for _, rl := range req.GetResourceLogs() {
		resAttrs := flatten(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			attrs := clone(resAttrs)
			if scope := sl.GetScope(); scope != nil {
				if name := scope.GetName(); name != "" {
					attrs["otel.scope.name"] = name
				}
				if version := scope.GetVersion(); version != "" {
					attrs["otel.scope.version"] = version
				}
				merge(attrs, flatten(scope.GetAttributes()))
			}
			for _, lr := range sl.GetLogRecords() {
				out = append(out, fromRecord(lr, attrs, meta))
			}
		}
	}
	return out
}

func fromRecord(lr *logspb.LogRecord, inherited map[string]string, meta Meta) model.LogEntry {
	attrs := clone(inherited)
	merge(attrs, flatten(lr.GetAttributes()))

	message := sanitize(anyValueString(lr.GetBody()))
	e := model.LogEntry{
		ID:                  uuid.New(),
		Level:               recordLevel(lr, message),
		Message:             message,
		AppName:             pop(attrs, appKeys),
		Host:                pop(attrs, hostKeys),
		Environment:         pop(attrs, envKeys),
		UserID:              pop(attrs, userKeys),
		RequestMethod:       strings.ToUpper(pop(attrs, methodKeys)),
		RequestPath:         pop(attrs, pathKeys),
		ExceptionType:       pop(attrs, excTypeKeys),
		ExceptionMessage:    pop(attrs, excMessageKeys),
		ExceptionStackTrace: pop(attrs, excStackKeys),
		TraceID:             hexID(lr.GetTraceId()),
		SpanID:              hexID(lr.GetSpanId()),
		Source:              meta.Source,
	}
	if e.AppName == "" {
		e.AppName = UnknownApp
	}
	if e.Environment == "" {
		e.Environment = model.DefaultEnvironment
	}
	if status, err := strconv.Atoi(pop(attrs, statusKeys)); err == nil {
		e.StatusCode = &status
	}

	e.Metadata = model.DefaultMetadata
	if len(attrs) > 0 {
		if b, err := json.Marshal(attrs); err == nil {
			e.Metadata = string(b)
		}
	}
	stamp(&e, meta)
	return e
}

// recordLevel prefers the severity text, then the severity number, then a
// level word found in the message.
func recordLevel(lr *logspb.LogRecord, message string) model.Level {
	if text := strings.TrimSpace(lr.GetSeverityText()); text != "" {
		return logparse.ParseLevel(text)
	}
	if level, ok := logparse.SeverityNumberToLevel(int32(lr.GetSeverityNumber())); ok {
		return level
	}
	return logparse.ExtractSeverityFromText(message)
}

// DecodeOTLP parses an OTLP/HTTP body. JSON bodies follow the OTLP JSON
// mapping, where trace and span ids are hex rather than base64.
func DecodeOTLP(body []byte, contentType string) (*collogspb.ExportLogsServiceRequest, error) {
	req := &collogspb.ExportLogsServiceRequest{}
	if strings.HasPrefix(strings.TrimSpace(contentType), "application/json") {
		var raw any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		hexIDsToBase64(raw)
		fixed, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(fixed, req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return req, nil
	}
	if err := proto.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return req, nil
}

func hexIDsToBase64(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "traceId" || k == "spanId" {
				if s, ok := val.(string); ok {
					if b, err := hex.DecodeString(s); err == nil {
						t[k] = base64.StdEncoding.EncodeToString(b)
					}
				}
				continue
			}
			hexIDsToBase64(val)
		}
	case []any:
		for _, item := range t {
			hexIDsToBase64(item)
		}
	}
}

func flatten(kvs []*commonpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if kv.GetKey() == "" {
			continue
		}
		if v := anyValueString(kv.GetValue()); v != "" {
			out[kv.GetKey()] = v
		}
	}
	return out
}

func anyValueString(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		parts := make([]string, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			if s := anyValueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case *commonpb.AnyValue_KvlistValue:
		b, err := json.Marshal(flatten(val.KvlistValue.GetValues()))
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

func hexID(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	for _, c := range b {
		if c != 0 {
			return hex.EncodeToString(b)
		}
	}
	return ""
}

func pop(attrs map[string]string, keys []string) string {
	var found string
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			if found == "" {
				found = v
			}
			delete(attrs, k)
		}
	}
	return found
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func sanitize(message string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(message)
}
