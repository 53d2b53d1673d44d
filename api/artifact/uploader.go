// Package artifact hashes deployment artifacts and uploads them to the
// deployment bucket under content-addressed keys.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"skald/api/model"
	"skald/api/naming"
	"skald/api/retry"
	"skald/api/storage"
)

const DefaultConcurrency = 4

// Destination is where one deploy writes its objects.
type Destination struct {
	Prefix               string
	TemplateDirectory    string
	ServerSideEncryption string
	SSEKMSKeyID          string
}

type Result struct {
	Key      string
	Uploaded bool
	Size     int64
}

// Report summarises UploadAll.
type Report struct {
	Artifacts   []model.Artifact
	TemplateKey string
	ManifestKey string
	Uploaded    int
	Skipped     int
}

type Uploader struct {
	Store       storage.ObjectStore
	Concurrency int
	Retry       retry.Policy
	Log         *zap.Logger
}

func NewUploader(store storage.ObjectStore, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{Store: store, Concurrency: DefaultConcurrency, Retry: retry.Default, Log: log}
}

// Upload stores one artifact unless an object already exists at its
// content-derived key. art is updated with digest, size and key.
func (u *Uploader) Upload(ctx context.Context, dst Destination, art *model.Artifact) (Result, error) {
	return u.upload(ctx, dst, art, nil)
}

// upload is Upload with identical artifacts of one batch collapsed onto a
// single transfer. Callers that joined another's transfer report Uploaded
// false.
func (u *Uploader) upload(ctx context.Context, dst Destination, art *model.Artifact, flight *singleflight.Group) (Result, error) {
	if art == nil || art.LocalPath == "" {
		return Result{}, &model.ValidationError{Field: "artifact path", Reason: "required"}
	}
	digest, size, err := DigestFile(art.LocalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, &model.ValidationError{Field: "artifact path", Reason: art.LocalPath + " does not exist"}
		}
		return Result{}, err
	}
	ext := ".zip"
	if !art.IsArchive {
		if e := filepath.Ext(art.LocalPath); e != "" {
			ext = e
		}
	}
	art.Digest = digest
	art.Size = size
	art.StorageKey = naming.ArtifactKey(dst.Prefix, digest, ext)

	if flight == nil {
		return u.transfer(ctx, dst, *art, ext)
	}
	var leader bool
	v, err, _ := flight.Do(art.StorageKey, func() (any, error) {
		leader = true
		return u.transfer(ctx, dst, *art, ext)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if !leader {
		u.Log.Info("artifact shares content with another in this deploy",
			zap.String("artifact", art.Name), zap.String("key", art.StorageKey))
		res.Uploaded = false
	}
	return res, nil
}

func (u *Uploader) transfer(ctx context.Context, dst Destination, art model.Artifact, ext string) (Result, error) {
	exists, err := u.exists(ctx, art.StorageKey)
	if err != nil {
		return Result{}, err
	}
	if exists {
		u.Log.Info("artifact already uploaded",
			zap.String("artifact", art.Name), zap.String("key", art.StorageKey))
		return Result{Key: art.StorageKey, Size: art.Size}, nil
	}

	u.Log.Info("uploading artifact",
		zap.String("artifact", art.Name),
		zap.String("key", art.StorageKey),
		zap.String("size", humanize.Bytes(uint64(art.Size))))

	err = retry.Do(ctx, u.Retry, func() error {
		f, err := os.Open(art.LocalPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return u.Store.Put(ctx, art.StorageKey, f, art.Size, storage.PutOptions{
			ContentType:          contentType(ext),
			Metadata:             map[string]string{storage.MetaDigest: art.Digest},
			ServerSideEncryption: dst.ServerSideEncryption,
			SSEKMSKeyID:          dst.SSEKMSKeyID,
		})
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", art.Name, err)
	}
	return Result{Key: art.StorageKey, Uploaded: true, Size: art.Size}, nil
}

func (u *Uploader) exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := retry.Do(ctx, u.Retry, func() error {
		_, err := u.Store.Head(ctx, key)
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, model.ErrNotFound):
			found = false
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return found, nil
}

// UploadTemplate stores the compiled template unconditionally, tagged with
// its own digest.
func (u *Uploader) UploadTemplate(ctx context.Context, dst Destination, body []byte) (string, error) {
	key := naming.TemplateKey(dst.Prefix, dst.TemplateDirectory)
	if err := u.putSmall(ctx, dst, key, body); err != nil {
		return "", fmt.Errorf("upload template: %w", err)
	}
	return key, nil
}

// UploadManifest records the artifact keys a deployment references.
func (u *Uploader) UploadManifest(ctx context.Context, dst Destination, artifacts []model.Artifact) (string, error) {
	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		keys = append(keys, a.StorageKey)
	}
	body, err := json.Marshal(Manifest{Artifacts: keys})
	if err != nil {
		return "", err
	}
	key := naming.ManifestKey(dst.Prefix, dst.TemplateDirectory)
	if err := u.putSmall(ctx, dst, key, body); err != nil {
		return "", fmt.Errorf("upload artifact manifest: %w", err)
	}
	return key, nil
}

func (u *Uploader) putSmall(ctx context.Context, dst Destination, key string, body []byte) error {
	digest, err := Digest(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return retry.Do(ctx, u.Retry, func() error {
		return u.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{
			ContentType:          "application/json",
			Metadata:             map[string]string{storage.MetaDigest: digest},
			ServerSideEncryption: dst.ServerSideEncryption,
			SSEKMSKeyID:          dst.SSEKMSKeyID,
		})
	})
}

// UploadAll uploads the artifacts with bounded concurrency, then the
// artifact manifest, then the template. The template is written last so a
// deployment never looks complete while its artifacts are missing. The
// first failure cancels the remaining uploads. Artifacts with identical
// content are transferred once.
//
// customResources is optional and silently skipped when the file is absent.
func (u *Uploader) UploadAll(ctx context.Context, dst Destination, artifacts []model.Artifact, customResources string, template []byte) (*Report, error) {
	arts := make([]model.Artifact, len(artifacts), len(artifacts)+1)
	copy(arts, artifacts)
	if customResources != "" {
		if _, err := os.Stat(customResources); err == nil {
			arts = append(arts, model.Artifact{Name: "custom-resources", LocalPath: customResources, IsArchive: true})
		}
	}

	limit := u.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	report := &Report{}
	var (
		mu     sync.Mutex
		flight singleflight.Group
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range arts {
		art := &arts[i]
		g.Go(func() error {
			res, err := u.upload(gctx, dst, art, &flight)
			if err != nil {
				return err
			}
			mu.Lock()
			if res.Uploaded {
				report.Uploaded++
			} else {
				report.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifestKey, err := u.UploadManifest(ctx, dst, arts)
	if err != nil {
		return nil, err
	}
	templateKey, err := u.UploadTemplate(ctx, dst, template)
	if err != nil {
		return nil, err
	}

	report.Artifacts = arts
	report.ManifestKey = manifestKey
	report.TemplateKey = templateKey
	return report, nil
}

// Manifest is the stored list of artifacts a deployment references.
type Manifest struct {
	Artifacts []string `json:"artifacts"`
}

func contentType(ext string) string {
	if ext == ".zip" {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
