package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig holds the Aliyun OSS credentials and bucket.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	SecurityToken   string
	Bucket          string
}

// Enabled reports whether every required OSS setting is present.
func (c OSSConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// OSSStore reads objects from an Aliyun OSS bucket.
type OSSStore struct {
	bucket *oss.Bucket
}

// NewOSSStore connects to the configured bucket. It returns (nil, nil) when OSS is not
// configured so callers can fall through to other backends.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	endpoint := normalizeEndpoint(cfg.Endpoint)
	var (
		client *oss.Client
		err    error
	)
	if cfg.SecurityToken != "" {
		client, err = oss.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, oss.SecurityToken(cfg.SecurityToken))
	} else {
		client, err = oss.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	}
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}

	return &OSSStore{bucket: bucket}, nil
}

// Name identifies the backend in logs.
func (s *OSSStore) Name() string {
	return "oss"
}

// Get downloads the object stored under key, stopping one byte past maxBytes.
func (s *OSSStore) Get(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	body, err := s.bucket.GetObject(strings.TrimPrefix(key, "/"), oss.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return ReadLimited(body, maxBytes)
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "https://" + endpoint
	}
	return endpoint
}
