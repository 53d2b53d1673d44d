package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/model"
	"skald/api/retry"
	"skald/api/storage"
)

var artifactKeyRe = regexp.MustCompile(`^somedir/code-artifacts/[0-9a-f]{64}\.zip$`)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newTestUploader(store storage.ObjectStore) *Uploader {
	u := NewUploader(store, nil)
	u.Retry = retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return u
}

var dst = Destination{Prefix: "somedir", TemplateDirectory: "sometimestamp"}

func TestDigestIsStableAndMetadataIndependent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.zip", "artifact.zip file content")
	b := writeFile(t, dir, "b.zip", "artifact.zip file content")
	require.NoError(t, os.Chmod(b, 0o600))
	require.NoError(t, os.Chtimes(b, time.Unix(0, 0), time.Unix(0, 0)))

	da, size, err := DigestFile(a)
	require.NoError(t, err)
	db, _, err := DigestFile(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Equal(t, int64(25), size)
	assert.Regexp(t, `^[0-9a-f]{64}$`, da)

	dr, err := Digest(strings.NewReader("artifact.zip file content"))
	require.NoError(t, err)
	assert.Equal(t, da, dr)
}

func TestUploadWhenAbsent(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	art := &model.Artifact{Name: "artifact", LocalPath: writeFile(t, t.TempDir(), "artifact.zip", "artifact.zip file content"), IsArchive: true}

	res, err := u.Upload(context.Background(), dst, art)
	require.NoError(t, err)

	assert.True(t, res.Uploaded)
	assert.Regexp(t, artifactKeyRe, res.Key)
	assert.Equal(t, 1, store.Calls("put"))

	opts, ok := store.PutOptionsFor(res.Key)
	require.True(t, ok)
	assert.Equal(t, "application/zip", opts.ContentType)
	assert.Equal(t, art.Digest, opts.Metadata[storage.MetaDigest])
	assert.Empty(t, opts.ServerSideEncryption)
}

func TestUploadWithServerSideEncryption(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	art := &model.Artifact{LocalPath: writeFile(t, t.TempDir(), "artifact.zip", "x"), IsArchive: true}

	sse := dst
	sse.ServerSideEncryption = "AES256"
	res, err := u.Upload(context.Background(), sse, art)
	require.NoError(t, err)

	opts, _ := store.PutOptionsFor(res.Key)
	assert.Equal(t, "AES256", opts.ServerSideEncryption)
}

func TestUploadSkipsExisting(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	path := writeFile(t, t.TempDir(), "artifact.zip", "artifact.zip file content")

	first, err := u.Upload(context.Background(), dst, &model.Artifact{LocalPath: path, IsArchive: true})
	require.NoError(t, err)
	require.True(t, first.Uploaded)

	// a second service build producing the same bytes
	store2 := storage.NewMemory()
	store2.Seed(first.Key, []byte("artifact.zip file content"), nil)
	u2 := newTestUploader(store2)
	second, err := u2.Upload(context.Background(), dst, &model.Artifact{LocalPath: path, IsArchive: true})
	require.NoError(t, err)

	assert.False(t, second.Uploaded)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, store2.Calls("head"))
	assert.Equal(t, 0, store2.Calls("put"))
}

func TestUploadIsIdempotent(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	path := writeFile(t, t.TempDir(), "artifact.zip", "same bytes")

	for i := 0; i < 3; i++ {
		_, err := u.Upload(context.Background(), dst, &model.Artifact{LocalPath: path, IsArchive: true})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Calls("put"))
	assert.Equal(t, 3, store.Calls("head"))
}

func TestUploadRejectsMissingPath(t *testing.T) {
	u := newTestUploader(storage.NewMemory())

	_, err := u.Upload(context.Background(), dst, nil)
	assert.True(t, model.IsValidation(err))

	_, err = u.Upload(context.Background(), dst, &model.Artifact{})
	assert.True(t, model.IsValidation(err))

	_, err = u.Upload(context.Background(), dst, &model.Artifact{LocalPath: "/does/not/exist.zip"})
	assert.True(t, model.IsValidation(err))
}

func TestUploadHeadFailureIsFatal(t *testing.T) {
	store := storage.NewMemory()
	store.Fail = func(op, key string) error {
		if op == "head" {
			return fmt.Errorf("head %s: %w", key, model.ErrForbidden)
		}
		return nil
	}
	u := newTestUploader(store)
	_, err := u.Upload(context.Background(), dst, &model.Artifact{LocalPath: writeFile(t, t.TempDir(), "a.zip", "x"), IsArchive: true})

	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, 0, store.Calls("put"))
}

func TestUploadRetriesThrottledPut(t *testing.T) {
	store := storage.NewMemory()
	var puts int32
	store.Fail = func(op, key string) error {
		if op == "put" && atomic.AddInt32(&puts, 1) == 1 {
			return model.ErrThrottled
		}
		return nil
	}
	u := newTestUploader(store)
	res, err := u.Upload(context.Background(), dst, &model.Artifact{LocalPath: writeFile(t, t.TempDir(), "a.zip", "x"), IsArchive: true})
	require.NoError(t, err)
	assert.True(t, res.Uploaded)
	assert.Equal(t, 2, store.Calls("put"))
}

func TestUploadNonArchiveKeepsExtension(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	art := &model.Artifact{LocalPath: writeFile(t, t.TempDir(), "worker.json", "{}"), IsArchive: false}

	res, err := u.Upload(context.Background(), dst, art)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Key, ".json"))
	opts, _ := store.PutOptionsFor(res.Key)
	assert.Equal(t, "application/json", opts.ContentType)
}

func TestUploadTemplateIsUnconditional(t *testing.T) {
	store := storage.NewMemory()
	u := newTestUploader(store)
	body := []byte(`{"foo":"bar"}`)

	for i := 0; i < 2; i++ {
		key, err := u.UploadTemplate(context.Background(), dst, body)
		require.NoError(t, err)
		assert.Equal(t, "somedir/sometimestamp/compiled-template.json", key)
	}
	assert.Equal(t, 0, store.Calls("head"))
	assert.Equal(t, 2, store.Calls("put"))

	digest, err := Digest(strings.NewReader(string(body)))
	require.NoError(t, err)
	opts, _ := store.PutOptionsFor("somedir/sometimestamp/compiled-template.json")
	assert.Equal(t, "application/json", opts.ContentType)
	assert.Equal(t, digest, opts.Metadata[storage.MetaDigest])
}

func TestUploadAllOrdersTemplateLast(t *testing.T) {
	store := storage.NewMemory()
	var order []string
	var seq int32
	store.Fail = func(op, key string) error {
		if op == "put" {
			atomic.AddInt32(&seq, 1)
			order = append(order, key)
		}
		return nil
	}
	u := newTestUploader(store)
	u.Concurrency = 1
	dir := t.TempDir()
	arts := []model.Artifact{
		{Name: "first", LocalPath: writeFile(t, dir, "first.zip", "first"), IsArchive: true},
		{Name: "second", LocalPath: writeFile(t, dir, "second.zip", "second"), IsArchive: true},
	}

	report, err := u.UploadAll(context.Background(), dst, arts, "", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Uploaded)
	require.Len(t, order, 4)
	assert.Equal(t, "somedir/sometimestamp/artifacts.json", order[2])
	assert.Equal(t, "somedir/sometimestamp/compiled-template.json", order[3])

	data, _, err := store.Get(context.Background(), report.ManifestKey)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, []string{report.Artifacts[0].StorageKey, report.Artifacts[1].StorageKey}, m.Artifacts)
}

func TestUploadAllTransfersIdenticalArtifactsOnce(t *testing.T) {
	store := storage.NewMemory()
	store.Fail = func(op, key string) error {
		if op == "head" {
			// hold the first check open so both artifacts are in flight together
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	}
	u := newTestUploader(store)
	u.Concurrency = 2
	dir := t.TempDir()
	arts := []model.Artifact{
		{Name: "api", LocalPath: writeFile(t, dir, "api.zip", "same bytes"), IsArchive: true},
		{Name: "worker", LocalPath: writeFile(t, dir, "worker.zip", "same bytes"), IsArchive: true},
	}

	report, err := u.UploadAll(context.Background(), dst, arts, "", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, report.Artifacts[0].StorageKey, report.Artifacts[1].StorageKey)
	assert.Equal(t, 3, store.Calls("put"), "one artifact, the manifest and the template")
}

func TestUploadAllCustomResources(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMemory()
	u := newTestUploader(store)

	report, err := u.UploadAll(context.Background(), dst, nil, filepath.Join(dir, "custom-resources.zip"), []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, report.Artifacts)
	assert.Equal(t, 0, store.Calls("head"))

	cr := writeFile(t, dir, "custom-resources.zip", "cr")
	report, err = u.UploadAll(context.Background(), dst, nil, cr, []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, report.Artifacts, 1)
	assert.Equal(t, "custom-resources", report.Artifacts[0].Name)
	assert.Regexp(t, artifactKeyRe, report.Artifacts[0].StorageKey)
}

func TestUploadAllFailureSkipsTemplate(t *testing.T) {
	store := storage.NewMemory()
	store.Fail = func(op, key string) error {
		if op == "put" && strings.Contains(key, "code-artifacts") {
			return model.ErrForbidden
		}
		return nil
	}
	u := newTestUploader(store)
	dir := t.TempDir()
	arts := []model.Artifact{
		{LocalPath: writeFile(t, dir, "a.zip", "a"), IsArchive: true},
		{LocalPath: writeFile(t, dir, "b.zip", "b"), IsArchive: true},
	}

	_, err := u.UploadAll(context.Background(), dst, arts, "", []byte(`{}`))
	require.ErrorIs(t, err, model.ErrForbidden)
	for _, k := range store.Keys() {
		assert.NotContains(t, k, "compiled-template.json")
	}
}

func TestNormalizeTemplate(t *testing.T) {
	dir := t.TempDir()
	j := writeFile(t, dir, "t.json", "{\n  \"b\": 1,\n  \"a\": {\"y\": true, \"x\": 1.50}\n}")
	y := writeFile(t, dir, "t.yaml", "a:\n  x: 1.50\n  y: true\nb: 1\n")

	fromJSON, err := LoadTemplate(j)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":1.50,"y":true},"b":1}`, string(fromJSON))

	fromYAML, err := LoadTemplate(y)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"x":1.5,"y":true},"b":1}`, string(fromYAML))

	_, err = NormalizeJSON([]byte("{"))
	assert.Error(t, err)
}
