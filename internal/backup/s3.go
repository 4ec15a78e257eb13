package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
)

const defaultS3Region = "us-east-1"

// bucketTarget is a parsed s3://bucket[/prefix] destination.
type bucketTarget struct {
	Bucket string
	Prefix string
}

func parseBucketTarget(raw string) (bucketTarget, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return bucketTarget{}, fmt.Errorf("s3: parse bucket-url: %w", err)
	}
	switch {
	case u.Scheme != "s3":
		return bucketTarget{}, errors.New("s3: bucket-url must use s3:// scheme")
	case strings.TrimSpace(u.Host) == "":
		return bucketTarget{}, errors.New("s3: bucket-url missing bucket name")
	}
	return bucketTarget{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/ ")}, nil
}

// objectURI is the destination of a snapshot file named name.
func (b bucketTarget) objectURI(name string) string {
	return "s3://" + path.Join(b.Bucket, b.Prefix, name)
}

// awsUploader ships snapshots with `aws s3 cp`. Credentials reach the CLI
// through its environment only, never its arguments.
type awsUploader struct {
	target   bucketTarget
	endpoint string
	region   string
	env      []string
	binary   string
}

func newAWSUploader(cfg Config) (*awsUploader, error) {
	target, err := parseBucketTarget(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.S3AccessKey) == "" || strings.TrimSpace(cfg.S3SecretKey) == "" {
		return nil, errors.New("s3: access key and secret key are required")
	}
	binary, err := exec.LookPath("aws")
	if err != nil {
		return nil, fmt.Errorf("s3: aws cli not found in PATH: %w", err)
	}

	region := strings.TrimSpace(cfg.S3Region)
	if region == "" {
		region = defaultS3Region
	}
	env := []string{
		"AWS_ACCESS_KEY_ID=" + cfg.S3AccessKey,
		"AWS_SECRET_ACCESS_KEY=" + cfg.S3SecretKey,
		"AWS_DEFAULT_REGION=" + region,
	}
	if token := strings.TrimSpace(cfg.S3SessionToken); token != "" {
		env = append(env, "AWS_SESSION_TOKEN="+token)
	}

	return &awsUploader{
		target:   target,
		endpoint: endpointURL(cfg.S3Endpoint, cfg.S3UseSSL),
		region:   region,
		env:      env,
		binary:   binary,
	}, nil
}

func (u *awsUploader) args(localPath string) []string {
	args := []string{"s3", "cp", localPath, u.target.objectURI(path.Base(localPath)),
		"--region", u.region, "--only-show-errors"}
	if u.endpoint != "" {
		args = append(args, "--endpoint-url", u.endpoint)
	}
	return args
}

// UploadFile copies localPath under the bucket prefix, keeping its base name.
func (u *awsUploader) UploadFile(ctx context.Context, localPath string) error {
	cmd := exec.CommandContext(ctx, u.binary, u.args(localPath)...)
	cmd.Env = append(os.Environ(), u.env...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("s3: upload %s: %w: %s", path.Base(localPath), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}
