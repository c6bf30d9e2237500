package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
)

const dependencyProbeTimeout = 5 * time.Second

// Resources bundles the engine's external dependencies: the document store
// pool, the token revocation list and the snapshot archive. Object is nil
// when snapshot archiving is disabled.
type Resources struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Object   *minio.Client

	bucket string
	region string
}

// NewResources connects every dependency the configuration enables and
// verifies each one before returning. The archive bucket is created when it
// does not exist yet.
func NewResources(ctx context.Context, cfg Config) (*Resources, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	res := &Resources{
		Postgres: pool,
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		bucket: cfg.ObjectBucket,
		region: cfg.ObjectRegion,
	}

	if cfg.ArchiveSnapshots {
		object, err := minio.New(cfg.ObjectEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.ObjectAccessKey, cfg.ObjectSecretKey, ""),
			Secure: cfg.ObjectUseSSL,
			Region: cfg.ObjectRegion,
		})
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("create object client: %w", err)
		}
		res.Object = object
		if err := res.ensureBucket(ctx); err != nil {
			res.Close()
			return nil, err
		}
	}

	if err := res.HealthCheck(ctx); err != nil {
		res.Close()
		return nil, err
	}
	return res, nil
}

func (r *Resources) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dependencyProbeTimeout)
	defer cancel()

	exists, err := r.Object.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("probe archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := r.Object.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region}); err != nil {
		return fmt.Errorf("create archive bucket %q: %w", r.bucket, err)
	}
	return nil
}

// HealthCheck probes the document store, the revocation list and, when
// archiving is enabled, the archive bucket.
func (r *Resources) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dependencyProbeTimeout)
	defer cancel()

	if err := r.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("document store unreachable: %w", err)
	}
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("revocation list unreachable: %w", err)
	}
	if r.Object != nil {
		// No ping on the S3 API; stat the bucket instead.
		if _, err := r.Object.BucketExists(ctx, r.bucket); err != nil {
			return fmt.Errorf("snapshot archive unreachable: %w", err)
		}
	}
	return nil
}

// Close disposes every active connection.
func (r *Resources) Close() {
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}
