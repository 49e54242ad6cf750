package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"thirdcoast.systems/clipforge/internal/config"
)

// S3 stores objects in an S3-compatible bucket via the minio client.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 creates the client and verifies the bucket is reachable.
func NewS3(ctx context.Context, conf config.Config) (*S3, error) {
	endpoint := conf.S3Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	var creds *credentials.Credentials
	if conf.S3AccessKey != "" {
		creds = credentials.NewStaticV4(conf.S3AccessKey, conf.S3SecretKey, "")
	} else {
		// Fall back to the standard chain (env, IAM role).
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: conf.S3UseSSL,
		Region: conf.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 client: %w", err)
	}

	ok, err := client.BucketExists(ctx, conf.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", conf.S3Bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("storage: bucket %s does not exist", conf.S3Bucket)
	}

	return &S3{client: client, bucket: conf.S3Bucket}, nil
}

// Open implements Storage.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	// GetObject is lazy; a Stat forces the first request so missing keys
	// surface here instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return obj, nil
}

// Save implements Storage. Pass size -1 when unknown; minio will stream with
// multipart uploads.
func (s *S3) Save(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentTypeForKey(key),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// SaveFile implements Storage.
func (s *S3) SaveFile(ctx context.Context, key, path string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentTypeForKey(key),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Exists implements Storage.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return true, nil
}

// PresignGet implements Storage.
func (s *S3) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete implements Storage.
func (s *S3) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
