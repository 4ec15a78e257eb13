package backup

import (
	"slices"
	"strings"
	"testing"
)

func TestParseBucketTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    bucketTarget
		wantErr string
	}{
		{raw: "s3://snapshots", want: bucketTarget{Bucket: "snapshots"}},
		{raw: "s3://snapshots/burrow/prod/", want: bucketTarget{Bucket: "snapshots", Prefix: "burrow/prod"}},
		{raw: "https://snapshots/burrow", wantErr: "s3:// scheme"},
		{raw: "s3:///burrow", wantErr: "missing bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := parseBucketTarget(tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBucketTarget: %v", err)
			}
			if got != tt.want {
				t.Fatalf("target = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBucketTargetObjectURI(t *testing.T) {
	t.Parallel()

	if got := (bucketTarget{Bucket: "b"}).objectURI("burrow-1.duckdb"); got != "s3://b/burrow-1.duckdb" {
		t.Errorf("no prefix = %q", got)
	}
	if got := (bucketTarget{Bucket: "b", Prefix: "x/y"}).objectURI("burrow-1.duckdb"); got != "s3://b/x/y/burrow-1.duckdb" {
		t.Errorf("with prefix = %q", got)
	}
}

func TestNewAWSUploader_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := newAWSUploader(Config{BucketURL: "s3://snapshots/burrow", S3Endpoint: "s3.amazonaws.com"})
	if err == nil || !strings.Contains(err.Error(), "access key") {
		t.Fatalf("err = %v, want missing credentials", err)
	}
}

func TestAWSUploaderArgs(t *testing.T) {
	t.Parallel()

	u := &awsUploader{
		target:   bucketTarget{Bucket: "snapshots", Prefix: "burrow"},
		endpoint: "http://minio:9000",
		region:   defaultS3Region,
	}
	got := u.args("/var/backups/burrow-20260101-000000.000.duckdb")
	want := []string{
		"s3", "cp", "/var/backups/burrow-20260101-000000.000.duckdb",
		"s3://snapshots/burrow/burrow-20260101-000000.000.duckdb",
		"--region", "us-east-1", "--only-show-errors",
		"--endpoint-url", "http://minio:9000",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("args = %v\nwant   %v", got, want)
	}
	for _, a := range got {
		if strings.Contains(a, "AWS_") {
			t.Fatalf("credential leaked into args: %q", a)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"s3.amazonaws.com", true, "https://s3.amazonaws.com"},
		{"http://already", true, "http://already"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}
