package otlpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tinytelemetry/burrow/internal/model"
)

type captureQueue struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (q *captureQueue) EnqueueBatch(es []model.LogEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, es...)
	q.mu.Unlock()
}

func (q *captureQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

type staticKeys struct {
	project *model.Project
	key     string
	err     error
}

func (k staticKeys) ValidateAPIKey(_ context.Context, key string) (*model.Project, error) {
	if k.err != nil {
		return nil, k.err
	}
	if key == k.key {
		return k.project, nil
	}
	return nil, nil
}

func startBufconn(t *testing.T, conf Config, keys KeyValidator) (collogspb.LogsServiceClient, *captureQueue) {
	t.Helper()
	queue := &captureQueue{}
	srv := NewServer(conf, queue, keys)
	lis := bufconn.Listen(1 << 20)
	srv.serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return collogspb.NewLogsServiceClient(conn), queue
}

func exportRequest() *collogspb.ExportLogsServiceRequest {
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
				Key:   "service.name",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "billing"}},
			}}},
			ScopeLogs: []*logspb.ScopeLogs{{
				LogRecords: []*logspb.LogRecord{
					{SeverityNumber: logspb.SeverityNumber_SEVERITY_NUMBER_WARN, Body: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "retrying"}}},
				},
			}},
		}},
	}
}

func TestExportEnqueuesStampedEntries(t *testing.T) {
	p := &model.Project{ID: uuid.New(), Name: "pay"}
	client, queue := startBufconn(t, Config{RequireAPIKey: true}, staticKeys{project: p, key: "bw_good"})

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "bw_good")
	if _, err := client.Export(ctx, exportRequest()); err != nil {
		t.Fatalf("Export: %v", err)
	}

	if queue.len() != 1 {
		t.Fatalf("enqueued = %d, want 1", queue.len())
	}
	e := queue.entries[0]
	if e.AppName != "billing" || e.Level != model.LevelWarning || e.Source != model.SourceOTLP {
		t.Errorf("entry = %+v", e)
	}
	if e.ProjectID == nil || *e.ProjectID != p.ID || e.ProjectName != "pay" {
		t.Errorf("project = %v/%q", e.ProjectID, e.ProjectName)
	}
}

func TestExportAuth(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		keys    KeyValidator
		key     string
		want    codes.Code
		wantLen int
	}{
		{"required missing", Config{RequireAPIKey: true}, staticKeys{key: "k"}, "", codes.Unauthenticated, 0},
		{"required unknown", Config{RequireAPIKey: true}, staticKeys{key: "k"}, "other", codes.Unauthenticated, 0},
		{"optional missing", Config{}, staticKeys{key: "k"}, "", codes.OK, 1},
		{"optional unknown", Config{}, staticKeys{key: "k"}, "other", codes.Unauthenticated, 0},
		{"no project store", Config{}, nil, "anything", codes.OK, 1},
		{"lookup failure", Config{}, staticKeys{err: errors.New("db gone")}, "k", codes.Unavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, queue := startBufconn(t, tt.conf, tt.keys)
			ctx := context.Background()
			if tt.key != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", tt.key)
			}
			_, err := client.Export(ctx, exportRequest())
			if got := status.Code(err); got != tt.want {
				t.Fatalf("code = %v, want %v (%v)", got, tt.want, err)
			}
			if queue.len() != tt.wantLen {
				t.Fatalf("enqueued = %d, want %d", queue.len(), tt.wantLen)
			}
		})
	}
}

func TestExportEmptyRequest(t *testing.T) {
	client, queue := startBufconn(t, Config{}, nil)
	if _, err := client.Export(context.Background(), &collogspb.ExportLogsServiceRequest{}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if queue.len() != 0 {
		t.Fatalf("enqueued = %d, want 0", queue.len())
	}
}

func TestStartAndStop(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, &captureQueue{}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if srv.Addr() == "127.0.0.1:0" {
		t.Fatalf("Addr not resolved after Start: %s", srv.Addr())
	}
	srv.Stop()
}
