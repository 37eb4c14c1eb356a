package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/pool"
	"github.com/headfull/chrome-api/internal/ratelimit"
	"github.com/headfull/chrome-api/internal/scheduler"
	"github.com/headfull/chrome-api/internal/session"
	"github.com/headfull/chrome-api/internal/store"
	"github.com/headfull/chrome-api/pkg/models"
)

type stubHandle struct{}

func (stubHandle) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	return "<html>ok</html>", nil
}
func (stubHandle) Crashed() bool { return false }
func (stubHandle) Close()        {}

func newTestServer(t *testing.T) (*httptest.Server, *store.SessionStore) {
	t.Helper()

	cfg := &config.Config{
		MaxConcurrentSessions: 2,
		AdmissionTimeout:      time.Second,
		JobTimeout:            10 * time.Second,
		RateLimitPerHour:      3600,
		RateLimitBurst:        100,
	}

	displays := pool.New("display", 99, 2)
	ports := pool.New("port", 9222, 2)
	jobs := store.NewJobStore()
	sessions := store.NewSessionStore()

	sched := scheduler.New(cfg, pool.NewLeaser(displays, ports), jobs, sessions,
		func(ctx context.Context, lease *pool.Lease, sc models.SessionConfig) (scheduler.BrowserHandle, error) {
			return stubHandle{}, nil
		})
	sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	mgr := session.NewManager(cfg, sched, jobs, sessions)
	handler := NewHandler(mgr, sched, displays, ports)
	router := handler.SetupRoutes(nil, ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst), cfg.RateLimitPerHour)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, sessions
}

func postContents(t *testing.T, srv *httptest.Server, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/contents", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestCreateContentsAndPollJob(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postContents(t, srv, []models.ContentRequest{
		{Pages: []string{"https://a.test", "https://b.test"}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created []models.ContentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created, 1)
	require.Len(t, created[0].Pages, 2)

	jobID := created[0].Pages[0].JobID
	var job models.JobResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/v1/jobs/" + jobID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status == models.JobCompleted
	}, 3*time.Second, 20*time.Millisecond)

	require.NotNil(t, job.Result)
	assert.Equal(t, "<html>ok</html>", job.Result.Content)
	assert.Equal(t, "https://a.test", job.Result.URL)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
}

func TestCreateContentsRejectsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postContents(t, srv, []models.ContentRequest{{Pages: nil}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "pages")
}

func TestCreateContentsRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/contents", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/jobs/unknown-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postContents(t, srv, []models.ContentRequest{{Pages: []string{"https://a.test"}}})
	defer resp.Body.Close()
	var created []models.ContentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	r, err := http.Get(srv.URL + "/v1/sessions/" + created[0].ID)
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var sess models.Session
	require.NoError(t, json.NewDecoder(r.Body).Decode(&sess))
	assert.Equal(t, created[0].ID, sess.ID)

	r2, err := http.Get(srv.URL + "/v1/sessions/unknown")
	require.NoError(t, err)
	defer r2.Body.Close()
	assert.Equal(t, http.StatusNotFound, r2.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats["displays"]["available"])
	assert.Equal(t, 2, stats["ports"]["available"])
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	cfg := &config.Config{
		MaxConcurrentSessions: 1,
		AdmissionTimeout:      time.Second,
		JobTimeout:            10 * time.Second,
	}
	displays := pool.New("display", 99, 1)
	ports := pool.New("port", 9222, 1)
	jobs := store.NewJobStore()
	sessions := store.NewSessionStore()
	sched := scheduler.New(cfg, pool.NewLeaser(displays, ports), jobs, sessions,
		func(ctx context.Context, lease *pool.Lease, sc models.SessionConfig) (scheduler.BrowserHandle, error) {
			return stubHandle{}, nil
		})
	sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	mgr := session.NewManager(cfg, sched, jobs, sessions)
	handler := NewHandler(mgr, sched, displays, ports)
	// Burst of 1: the second request in quick succession must be rejected.
	router := handler.SetupRoutes(nil, ratelimit.NewLimiter(1, 1), 1)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp := postContents(t, srv, []models.ContentRequest{{Pages: []string{"https://a.test"}}})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))

	resp = postContents(t, srv, []models.ContentRequest{{Pages: []string{"https://b.test"}}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}
