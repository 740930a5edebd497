package costs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"propertyops/internal/config"
	"propertyops/internal/models"
)

type reportUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ReportExporter renders period cost reports to JSON and uploads them to S3,
// falling back to local disk when no bucket is configured.
type ReportExporter struct {
	prefix string
	dest   reportUploader
}

// NewReportExporter picks the destination from config.
func NewReportExporter(ctx context.Context, cfg config.Config) (*ReportExporter, error) {
	prefix := strings.Trim(cfg.CostReportPrefix, "/")
	if cfg.CostReportBucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &ReportExporter{
			prefix: prefix,
			dest:   &s3Uploader{client: client, bucket: cfg.CostReportBucket},
		}, nil
	}
	dir := cfg.CostReportDir
	if dir == "" {
		dir = "./reports"
	}
	return &ReportExporter{prefix: prefix, dest: &localUploader{baseDir: dir}}, nil
}

// Export writes one period report and returns its location.
func (e *ReportExporter) Export(ctx context.Context, dashboard models.CostDashboard) (string, error) {
	body, err := json.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := dashboard.Period + ".json"
	if e.prefix != "" {
		key = e.prefix + "/" + key
	}
	location, err := e.dest.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return location, nil
}

// S3Client exposes the underlying client and bucket when the exporter targets
// S3, so callers can wire a bucket health probe. Returns nil for local disk.
func (e *ReportExporter) S3Client() (*s3.Client, string) {
	if up, ok := e.dest.(*s3Uploader); ok {
		return up.client, up.bucket
	}
	return nil, ""
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
