package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryanwahyu/grups/src/app/auth"
	"github.com/bryanwahyu/grups/src/app/groups"
	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
	"github.com/bryanwahyu/grups/src/infra/memory"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	store    *memory.Store
	verifier *auth.Verifier
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	verifier, err := auth.NewVerifier("test-secret", "grups")
	require.NoError(t, err)
	store := memory.NewStore()
	registry := prometheus.NewRegistry()
	server := NewServer(ServerConfig{
		Logger:       zap.NewNop(),
		GroupService: groups.NewService(store, zap.NewNop()),
		Verifier:     verifier,
		Store:        store,
		Registry:     registry,
	})
	return &testEnv{server: server, handler: server.Handler(), store: store, verifier: verifier, registry: registry}
}

func (e *testEnv) token(t *testing.T, user shared.UserID) string {
	t.Helper()
	token, err := e.verifier.Issue(user, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) post(t *testing.T, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateGroupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "u1")

	rec := env.post(t, "/v1/groups", token, CreateGroupRequest{Name: "engineering", CreatorID: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var created groupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "engineering", created.Name)
	assert.Equal(t, "u1", created.CreatorID)
	assert.Positive(t, created.ID)

	members, err := env.store.ListMembers(context.Background(), shared.GroupID(created.ID))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, shared.UserID("u1"), members[0].UserID)

	rec = env.post(t, "/v1/groups", token, CreateGroupRequest{Name: "engineering", CreatorID: "u1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, group.KindGroupAlreadyExists.String(), conflict.Kind)
	require.NotNil(t, conflict.Group)
	assert.Equal(t, created.ID, conflict.Group.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.createOutcomes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.createOutcomes.WithLabelValues("group_already_exists")))
}

func TestCreateGroupEndpointFailures(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "u1")

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
		wantKind   string
	}{
		{name: "missing token", token: "", body: CreateGroupRequest{Name: "a"}, wantStatus: http.StatusUnauthorized},
		{name: "bad token", token: "garbage", body: CreateGroupRequest{Name: "a"}, wantStatus: http.StatusUnauthorized},
		{name: "creator mismatch", token: token, body: CreateGroupRequest{Name: "a", CreatorID: "u2"}, wantStatus: http.StatusForbidden, wantKind: "creator_mismatch"},
		{name: "blank name", token: token, body: CreateGroupRequest{Name: " "}, wantStatus: http.StatusBadRequest, wantKind: "invalid_request"},
		{name: "malformed body", token: token, body: "not an object", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post(t, "/v1/groups", tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				var body errorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantKind, body.Kind)
			}
		})
	}

	rows, err := env.store.FindGroups(context.Background(), "a", "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateGroupStorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	rec := env.post(t, "/v1/groups", env.token(t, "u1"), CreateGroupRequest{Name: "engineering"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "connection_unavailable", body.Kind)
	assert.Equal(t, "connect", body.Stage)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	ready := httptest.NewRecorder()
	env.handler.ServeHTTP(ready, req)
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
}

func TestLegacyGroupAdd(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "u1")

	rec := env.post(t, "/group-add", token, map[string]string{"name": "engineering", "creator": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, legacyCreatedMessage, rec.Body.String())

	rec = env.post(t, "/group-add", token, map[string]string{"name": "engineering", "creator": "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "group already exists")
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	env.server.SetReady(false)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}

func TestHTTPMetricsRecorded(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	count := testutil.ToFloat64(env.server.requestCounter.With(prometheus.Labels{
		"route": "/healthz", "method": http.MethodGet, "code": "200",
	}))
	assert.Equal(t, 1.0, count)
}

func TestRecoveryHandler(t *testing.T) {
	env := newTestEnv(t)
	env.server.router.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
