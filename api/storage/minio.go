package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"go.uber.org/zap"

	"skald/api/model"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// MinioStore is an ObjectStore on any S3-compatible endpoint.
type MinioStore struct {
	mc     *minio.Client
	config Config
	log    *zap.Logger
}

func NewMinioStore(cfg Config, log *zap.Logger) (*MinioStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &MinioStore{mc: mc, config: cfg, log: log.With(zap.String("bucket", cfg.Bucket))}, nil
}

// EnsureBucket creates the deployment bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.config.Bucket, classify(err))
	}
	if exists {
		return nil
	}
	region := s.config.Region
	if region == "" {
		region = "us-east-1"
	}
	if err := s.mc.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.config.Bucket, classify(err))
	}
	s.log.Info("created deployment bucket")
	return nil
}

func (s *MinioStore) Healthy(ctx context.Context) error {
	_, err := s.mc.BucketExists(ctx, s.config.Bucket)
	return err
}

func (s *MinioStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.mc.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", key, classify(err))
	}
	return toObjectInfo(info), nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	po := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}
	switch opts.ServerSideEncryption {
	case "":
	case "AES256":
		po.ServerSideEncryption = encrypt.NewSSE()
	case "aws:kms":
		sse, err := encrypt.NewSSEKMS(opts.SSEKMSKeyID, nil)
		if err != nil {
			return fmt.Errorf("put %s: kms: %w", key, err)
		}
		po.ServerSideEncryption = sse
	default:
		return &model.ValidationError{Field: "serverSideEncryption", Reason: opts.ServerSideEncryption + " is not supported"}
	}
	if _, err := s.mc.PutObject(ctx, s.config.Bucket, key, r, size, po); err != nil {
		return fmt.Errorf("put %s: %w", key, classify(err))
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, *ObjectInfo, error) {
	obj, err := s.mc.GetObject(ctx, s.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", key, classify(err))
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", key, classify(err))
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", key, classify(err))
	}
	return data, toObjectInfo(info), nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []ObjectInfo
	for obj := range s.mc.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, classify(obj.Err))
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

func (s *MinioStore) Delete(ctx context.Context, keys []string) ([]DeleteFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var failures []DeleteFailure
	for rerr := range s.mc.RemoveObjects(ctx, s.config.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if isCode(rerr.Err, "NoSuchKey") {
			continue
		}
		failures = append(failures, DeleteFailure{Key: rerr.ObjectName, Err: classify(rerr.Err)})
	}
	return failures, nil
}

func (s *MinioStore) URL(key string) string {
	u := *s.mc.EndpointURL()
	u.Path = "/" + s.config.Bucket + "/" + key
	return u.String()
}

func toObjectInfo(info minio.ObjectInfo) *ObjectInfo {
	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return &ObjectInfo{Key: info.Key, Size: info.Size, LastModified: info.LastModified, Metadata: meta}
}

func isCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	code := minio.ToErrorResponse(err).Code
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// classify maps S3 error responses onto the model error set.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	case resp.Code == "SlowDown" || resp.Code == "RequestLimitExceeded" || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", model.ErrThrottled, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v", model.ErrForbidden, err)
	case resp.StatusCode == http.StatusServiceUnavailable || resp.Code == "InternalError":
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return err
}
