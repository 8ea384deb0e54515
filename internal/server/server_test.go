package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltline/internal/config"
	"voltline/internal/db"
	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/migrate"
)

const testSecret = "test-secret"

var (
	admin   = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	manager = domain.Actor{ID: "mgr-1", Role: domain.RoleManager}
	sparky  = domain.Actor{ID: "elec-1", Role: domain.RoleElectrician}
)

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default("Voltline Test")
	if mutate != nil {
		mutate(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	e := engine.New(conn, cfg)
	_, err = e.RegisterWorker(context.Background(), admin, engine.WorkerOptions{
		ID: sparky.ID, Name: "Sam Sparks", Role: "Electrician", Skills: []string{"panel"},
	})
	require.NoError(t, err)
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testSecret, AllowActorHeaders: true}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: e}
}

func (s *testServer) do(t *testing.T, actor *domain.Actor, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Actor-Id", actor.ID)
		req.Header.Set("X-Actor-Role", string(actor.Role))
	}
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func createTask(t *testing.T, s *testServer) domain.WorkOrder {
	t.Helper()
	status, data := s.do(t, &manager, http.MethodPost, "/v1/tasks", map[string]any{
		"title":           "Replace breaker panel",
		"customer":        map[string]any{"name": "Ada", "address": "1 Main St", "phone": "555-0100"},
		"priority":        "Medium",
		"schedule":        map[string]any{"date": "2025-03-10", "start": "09:00", "end": "12:00", "estimated_hours": 3},
		"required_skills": []string{"panel"},
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	var task domain.WorkOrder
	require.NoError(t, json.Unmarshal(data, &task))
	return task
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)
	status, _ := s.do(t, nil, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, data := s.do(t, nil, http.MethodGet, "/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, data))
}

func TestOpenAPIDocumentServedConcurrently(t *testing.T) {
	s := newTestServer(t, nil)

	const n = 8
	bodies := make([][]byte, n)
	statuses := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Client().Get(s.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			statuses[i] = res.StatusCode
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Contains(t, doc, "paths")
}

func TestInternalErrorsAreLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	prev := errorLogger.Load()
	errorLogger.Store(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { errorLogger.Store(prev) })

	se := handleError(errors.New("sqlite: disk I/O error"))
	require.NotNil(t, se)
	assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
	ae, ok := se.(*apiError)
	require.True(t, ok)
	assert.Equal(t, "internal_error", ae.Body.Code)
	assert.Nil(t, ae.Body.Details)
	assert.NotContains(t, ae.Body.Message, "sqlite")

	data, err := json.Marshal(ae)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sqlite")
	assert.Contains(t, buf.String(), "sqlite: disk I/O error")
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, "T001", task.Code)

	status, data := s.do(t, &manager, http.MethodPost, "/v1/tasks/"+task.Code+"/assign", map[string]any{"worker_id": sparky.ID})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = s.do(t, &sparky, http.MethodPost, "/v1/tasks/"+task.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = s.do(t, &sparky, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", map[string]any{
		"completion_notes":   "Panel swapped",
		"additional_charges": 40,
	})
	require.Equal(t, http.StatusOK, status, string(data))
	var done domain.WorkOrder
	require.NoError(t, json.Unmarshal(data, &done))
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.Actuals.CompletedAt)

	status, data = s.do(t, &sparky, http.MethodPost, "/v1/tasks/"+task.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.KindInvalidTransition, errorCode(t, data))

	status, data = s.do(t, &manager, http.MethodPost, "/v1/tasks/"+task.ID+"/feedback", map[string]any{"rating": 5, "comment": "tidy"})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = s.do(t, &manager, http.MethodGet, "/v1/feed?limit=10", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var page engine.FeedPage
	require.NoError(t, json.Unmarshal(data, &page))
	verbs := make([]string, 0, len(page.Events))
	for _, ev := range page.Events {
		verbs = append(verbs, ev.Verb)
	}
	assert.Contains(t, verbs, "task.completed")
	assert.Contains(t, verbs, "task.feedback")
}

func TestElectricianCannotCreateTasks(t *testing.T) {
	s := newTestServer(t, nil)
	status, data := s.do(t, &sparky, http.MethodPost, "/v1/tasks", map[string]any{
		"title":    "Sneaky",
		"customer": map[string]any{"name": "Ada", "address": "1 Main St", "phone": "555"},
		"schedule": map[string]any{"date": "2025-03-10", "start": "09:00", "end": "10:00"},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.KindForbidden, errorCode(t, data))
}

func TestValidationErrorsUseEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s)
	status, data := s.do(t, &manager, http.MethodPost, "/v1/tasks/"+task.ID+"/assign", map[string]any{"worker_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.KindNotFound, errorCode(t, data))

	status, data = s.do(t, &manager, http.MethodPost, "/v1/reports", map[string]any{"type": "weekly_digest", "start": "2025-01-01", "end": "2025-02-01"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.KindUnsupportedReport, errorCode(t, data))
}

func TestEmergencyIssueRaisesPriority(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s)
	status, data := s.do(t, &manager, http.MethodPost, "/v1/tasks/"+task.ID+"/assign", map[string]any{"worker_id": sparky.ID})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = s.do(t, &sparky, http.MethodPost, "/v1/tasks/"+task.ID+"/issues", map[string]any{
		"type":        "safety",
		"description": "Exposed live wiring in basement",
		"priority":    "emergency",
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	var is domain.Issue
	require.NoError(t, json.Unmarshal(data, &is))
	assert.Equal(t, domain.IssueOpen, is.Status)

	status, data = s.do(t, &manager, http.MethodGet, "/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var after domain.WorkOrder
	require.NoError(t, json.Unmarshal(data, &after))
	assert.Equal(t, domain.PriorityHigh, after.Priority)
	assert.Equal(t, domain.StatusAssigned, after.Status)

	status, data = s.do(t, &manager, http.MethodPatch, "/v1/issues/"+is.ID, map[string]any{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, status, string(data))
	status, data = s.do(t, &manager, http.MethodPatch, "/v1/issues/"+is.ID, map[string]any{"status": "resolved", "resolution_notes": "Isolated circuit"})
	require.Equal(t, http.StatusOK, status, string(data))
}

func TestJWTAuthentication(t *testing.T) {
	s := newTestServer(t, nil)
	token, err := SignToken(testSecret, manager, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var who WhoAmIResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&who))
	assert.Equal(t, manager.ID, who.ActorID)
	assert.Contains(t, who.Permissions, "task.assign")
	assert.NotContains(t, who.Permissions, "config.manage")

	bad, err := SignToken("other-secret", manager, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bad)
	res2, err := s.Client().Do(req)
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}

func TestRateLimitPerActor(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.API.RateLimit.RPS = 0.001
		c.API.RateLimit.Burst = 2
	})
	for i := 0; i < 2; i++ {
		status, _ := s.do(t, &manager, http.MethodGet, "/v1/me", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, data := s.do(t, &manager, http.MethodGet, "/v1/me", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errorCode(t, data))

	status, _ = s.do(t, &sparky, http.MethodGet, "/v1/me", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestWebhookDeliversSignedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		verbs    []string
		sigs     []string
		received = make(chan struct{}, 8)
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		mu.Lock()
		verbs = append(verbs, evt.Verb)
		sigs = append(sigs, r.Header.Get("X-Voltline-Signature"))
		mu.Unlock()
		assert.Equal(t, "sha256="+sign("hook-secret", body), r.Header.Get("X-Voltline-Signature"))
		received <- struct{}{}
	}))
	defer hook.Close()

	s := newTestServer(t, func(c *config.Config) {
		c.Webhooks = []config.Webhook{{ID: "ops", URL: hook.URL, Secret: "hook-secret", Verbs: []string{"task.*"}}}
	})
	d := NewWebhookDispatcher(s.engine, nil)
	ctx := context.Background()
	require.NoError(t, d.DispatchAll(ctx))

	createTask(t, s)
	_, err := s.engine.SetPresence(ctx, sparky, sparky.ID, "Break")
	require.NoError(t, err)
	require.NoError(t, d.DispatchAll(ctx))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"task.created"}, verbs)
	assert.True(t, strings.HasPrefix(sigs[0], "sha256="))
}

func TestVerbFilter(t *testing.T) {
	f := newVerbFilter([]string{"issue.*", "task.completed"})
	assert.True(t, f.match("issue.reported"))
	assert.True(t, f.match("task.completed"))
	assert.False(t, f.match("task.created"))
	assert.True(t, newVerbFilter(nil).match("anything"))
}
