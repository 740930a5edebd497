package health

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shirou/gopsutil/v3/disk"

	"propertyops/internal/models"
)

// Probe executes one dependency check. It returns the probe's own status
// classification and the failure detail, if any. The runner may downgrade a
// healthy result to degraded on slow latency.
type Probe func(ctx context.Context) (models.HealthStatus, error)

type pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe wraps a Ping-style dependency such as Postgres or Redis.
func PingProbe(p pinger) Probe {
	return func(ctx context.Context) (models.HealthStatus, error) {
		if err := p.Ping(ctx); err != nil {
			return models.HealthUnhealthy, err
		}
		return models.HealthHealthy, nil
	}
}

// S3Probe verifies the report bucket is reachable.
func S3Probe(client *s3.Client, bucket string) Probe {
	return func(ctx context.Context) (models.HealthStatus, error) {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			return models.HealthUnhealthy, err
		}
		return models.HealthHealthy, nil
	}
}

// DiskProbe reports degraded above warnPct usage and unhealthy above failPct.
func DiskProbe(path string, warnPct, failPct float64) Probe {
	return func(ctx context.Context) (models.HealthStatus, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return models.HealthUnhealthy, err
		}
		switch {
		case usage.UsedPercent >= failPct:
			return models.HealthUnhealthy, fmt.Errorf("disk %s at %.1f%% used", path, usage.UsedPercent)
		case usage.UsedPercent >= warnPct:
			return models.HealthDegraded, fmt.Errorf("disk %s at %.1f%% used", path, usage.UsedPercent)
		default:
			return models.HealthHealthy, nil
		}
	}
}
