package offload

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader sends the file of a task to the object store.
type Uploader interface {
	Upload(ctx context.Context, t Task) error
}

// MinioUploader uploads to any S3 compatible object store.
type MinioUploader struct {
	client *minio.Client
	logger log.Logger
}

// NewMinioUploader connects to endpoint, an URL like https://s3.example.com:9000 or a bare host:port.
// Without scheme the connection is made over TLS.
func NewMinioUploader(logger log.Logger, endpoint, key, secret string) (*MinioUploader, error) {
	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("can't create object store client: %w", err)
	}

	return &MinioUploader{
		client: client,
		logger: log.With(logger, "component", "uploader"),
	}, nil
}

func parseEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		if endpoint == "" {
			return "", false, fmt.Errorf("empty object store endpoint")
		}
		return endpoint, true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid object store endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported object store scheme %q", u.Scheme)
	}
}

func (u *MinioUploader) Upload(ctx context.Context, t Task) error {
	info, err := u.client.FPutObject(ctx, t.Bucket, t.RemotePath, t.LocalPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return err
	}

	level.Info(u.logger).Log(
		"msg", "uploaded capture file",
		"bucket", t.Bucket,
		"key", t.RemotePath,
		"size", humanize.Bytes(uint64(info.Size)),
	)
	return nil
}
