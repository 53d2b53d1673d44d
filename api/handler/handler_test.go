package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/artifact"
	"skald/api/config"
	"skald/api/health"
	"skald/api/model"
	"skald/api/naming"
	"skald/api/pipeline"
	"skald/api/retry"
	"skald/api/saga"
	"skald/api/stack"
	"skald/api/storage"
	"skald/api/store"
	"skald/api/validate"
)

type fakeBackend struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakeBackend) Exists(ctx context.Context, name string) (bool, error) { return true, nil }

func (f *fakeBackend) Create(ctx context.Context, name string, tpl model.Template, params map[string]string) (string, error) {
	return f.Update(ctx, name, tpl, params)
}

func (f *fakeBackend) Update(ctx context.Context, name string, tpl model.Template, params map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, tpl.Body)
	return "op-1", nil
}

func (f *fakeBackend) Describe(ctx context.Context, op model.StackOperation) (stack.Observation, error) {
	return stack.Observation{Status: model.StackComplete, Raw: "UPDATE_COMPLETE"}, nil
}

func (f *fakeBackend) Events(ctx context.Context, op model.StackOperation) ([]model.StackEvent, error) {
	return nil, nil
}

func (f *fakeBackend) submitted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.bodies...)
}

type testServer struct {
	router  chi.Router
	objects *storage.Memory
	backend *fakeBackend
	history *store.Memory
	sagas   *saga.MemoryStore
}

func setupTestServer(t *testing.T, checks ...health.Check) *testServer {
	t.Helper()

	appsDir := t.TempDir()
	svcDir := filepath.Join(appsDir, "svc")
	require.NoError(t, os.MkdirAll(svcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(svcDir, model.ManifestFile), []byte(`service: svc
template: template.json
artifacts:
  - path: svc.zip
parameters:
  Memory: "256"
deploymentBucket:
  maxPreviousDeploymentArtifacts: 2
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(svcDir, "template.json"), []byte(`{"Resources":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(svcDir, "svc.zip"), []byte("code"), 0o644))

	ts := &testServer{
		objects: storage.NewMemory(),
		backend: &fakeBackend{},
		history: store.NewMemory(),
		sagas:   saga.NewMemoryStore(),
	}
	p := pipeline.New(func(string) (storage.ObjectStore, error) { return ts.objects, nil }, ts.backend, ts.sagas, nil)
	p.Recorder = ts.history
	p.PollInterval = time.Millisecond
	p.StackTimeout = 5 * time.Second
	p.Retry = retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	cfg := &config.Config{AppsDir: appsDir, S3Bucket: "deploys", AWSRegion: "us-east-1"}
	h := New(context.Background(), Deps{
		Config:    cfg,
		Pipeline:  p,
		SagaStore: ts.sagas,
		Recorder:  ts.history,
		Checks:    checks,
		Version:   "1.2.3",
	})
	r := chi.NewRouter()
	h.Mount(r)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

// seed stores a deployment of svc/dev taken at the given time and returns
// its timestamp.
func (ts *testServer) seed(at time.Time, template string) string {
	dir := naming.NewTimestamp(at)
	digest, _ := artifact.Digest(strings.NewReader(template))
	ts.objects.Seed(naming.TemplateKey("skald/svc/dev", dir), []byte(template), map[string]string{storage.MetaDigest: digest})
	stamp, _ := naming.TimestampOf(dir)
	return stamp
}

func (ts *testServer) waitFinished(t *testing.T, sagaID string) model.Invocation {
	t.Helper()
	var found model.Invocation
	require.Eventually(t, func() bool {
		invs, err := ts.history.ListInvocations(context.Background(), store.InvocationFilter{})
		require.NoError(t, err)
		for _, inv := range invs {
			if inv.SagaID == sagaID && inv.Finished() {
				found = inv
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return found
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t,
		health.Check{Name: "storage", Fn: func(ctx context.Context) error { return nil }},
		health.Check{Name: "consul", Fn: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	rr := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status   string          `json:"status"`
		Services []health.Status `json:"services"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Services, 2)
	assert.Equal(t, "up", body.Services[0].Status)
	assert.Equal(t, "down", body.Services[1].Status)
	assert.Equal(t, "connection refused", body.Services[1].Details)
}

func TestVersion(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"1.2.3"}`, rr.Body.String())
}

func TestListServices(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var manifests []model.Manifest
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&manifests))
	require.Len(t, manifests, 1)
	assert.Equal(t, "svc", manifests[0].Service)
}

func TestListDeployments(t *testing.T) {
	ts := setupTestServer(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	second := ts.seed(base.Add(time.Minute), `{"v":2}`)
	first := ts.seed(base, `{"v":1}`)

	rr := ts.do(t, http.MethodGet, "/api/services/svc/dev/deployments", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var ds []model.Deployment
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ds))
	require.Len(t, ds, 2)
	assert.Equal(t, first, ds[0].Timestamp)
	assert.Equal(t, second, ds[1].Timestamp)
}

func TestInvalidTargetRejected(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/services/svc/-dev/deployments", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeployRunsInBackground(t *testing.T) {
	ts := setupTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/deploy", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.NotEmpty(t, body["sagaId"])

	inv := ts.waitFinished(t, body["sagaId"])
	assert.Equal(t, model.StatusSucceeded, inv.Status)
	assert.Len(t, ts.backend.submitted(), 1)

	events, err := ts.sagas.ListBySaga(context.Background(), body["sagaId"])
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestDeployUnknownService(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, http.MethodPost, "/api/services/other/dev/deploy", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRollback(t *testing.T) {
	ts := setupTestServer(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := ts.seed(base, `{"v":1}`)
	ts.seed(base.Add(time.Minute), `{"v":2}`)

	rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/rollback", map[string]string{"timestamp": old})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, old, body["timestamp"])

	inv := ts.waitFinished(t, body["sagaId"])
	assert.Equal(t, model.StatusRolledBack, inv.Status)
	require.Len(t, ts.backend.submitted(), 1)
	assert.Equal(t, `{"v":1}`, string(ts.backend.submitted()[0]))
}

func TestRollbackErrors(t *testing.T) {
	tests := []struct {
		name      string
		seed      bool
		timestamp string
		want      int
	}{
		{name: "malformed timestamp", seed: true, timestamp: "yesterday", want: http.StatusBadRequest},
		{name: "no deployments", timestamp: "1709294400000", want: http.StatusNotFound},
		{name: "unknown timestamp", seed: true, timestamp: "1000000000000", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			if tt.seed {
				ts.seed(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), `{"v":1}`)
			}
			rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/rollback", map[string]string{"timestamp": tt.timestamp})
			assert.Equal(t, tt.want, rr.Code)
			assert.Empty(t, ts.backend.submitted())
		})
	}
}

func TestCleanup(t *testing.T) {
	ts := setupTestServer(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts.seed(base.Add(time.Duration(i)*time.Minute), `{"v":1}`)
	}

	keep := 1
	rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/cleanup", map[string]*int{"keep": &keep})
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		SagaID   string   `json:"sagaId"`
		Removed  []string `json:"removed"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Len(t, body.Removed, 3)
	assert.Len(t, ts.objects.Keys(), 1)
}

func TestCleanupNegativeKeep(t *testing.T) {
	ts := setupTestServer(t)
	keep := -1
	rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/cleanup", map[string]*int{"keep": &keep})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSagaAndInvocationListing(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), `{"v":1}`)
	keep := 5
	rr := ts.do(t, http.MethodPost, "/api/services/svc/dev/cleanup", map[string]*int{"keep": &keep})
	require.Equal(t, http.StatusOK, rr.Code)

	var cleanup map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cleanup))
	sagaID := cleanup["sagaId"].(string)

	rr = ts.do(t, http.MethodGet, "/api/saga/"+sagaID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var events []saga.Event
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&events))
	assert.NotEmpty(t, events)

	rr = ts.do(t, http.MethodGet, "/api/saga?target=svc/dev/us-east-1&limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var recent []saga.Event
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&recent))
	assert.NotEmpty(t, recent)

	rr = ts.do(t, http.MethodGet, "/api/invocations?kind=cleanup", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var invs []model.Invocation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&invs))
	require.Len(t, invs, 1)
	assert.Equal(t, model.KindCleanup, invs[0].Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&model.ValidationError{Field: "x", Reason: "y"}))
	assert.Equal(t, http.StatusNotFound, statusFor(&model.DeploymentNotFoundError{Timestamp: "1"}))
	assert.Equal(t, http.StatusNotFound, statusFor(model.ErrDeploymentsNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(model.ErrForbidden))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(model.ErrThrottled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestValidate(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/services/svc/dev/validate", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var result validate.Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.Equal(t, "svc", result.Service)
	assert.True(t, result.Valid(), "%+v", result.Findings)
}
