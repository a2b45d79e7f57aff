package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formflow/eventbus"
	"formflow/jobstore"
	"formflow/observability"
	"formflow/scriptgen"
	"formflow/transformer"
)

const recording = `from playwright.sync_api import Playwright, sync_playwright

def run(playwright: Playwright) -> None:
    browser = playwright.chromium.launch(headless=False)
    context = browser.new_context()
    page = context.new_page()
    page.goto("https://example.com/{{form}}")
    page.get_by_role("button", name="Start").click()
    page.get_by_label("Email").fill("{{email}}")
`

type fixture struct {
	srv   *Server
	store *jobstore.MemoryStore
	bus   *eventbus.Recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	store := jobstore.NewMemoryStore()
	bus := &eventbus.Recorder{}
	opts.Transformer = transformer.DefaultOptions()
	opts.Script = scriptgen.DefaultConfig()
	srv := New(opts, Deps{
		Store:    store,
		Bus:      bus,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Logger:   logger,
	})
	return &fixture{srv: srv, store: store, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func eventTypes(bus *eventbus.Recorder) []string {
	var out []string
	for _, e := range bus.Events() {
		out = append(out, e.Type)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 3})
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 3.0, body["queue_size"])
	assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))
}

func TestTransformWait(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/transform", TransformRequest{
		Request: jobstore.Request{
			Title:     "Signup",
			Source:    recording,
			Variables: map[string]string{"form": "signup"},
			Assemble:  true,
		},
		Wait: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var job jobstore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Contains(t, job.Result.Code, `page.goto("https://example.com/signup")`)
	assert.NotContains(t, job.Result.Code, "sync_playwright")
	assert.Equal(t, 3, job.Result.Actions)
	assert.Equal(t, 1, job.Result.Kinds["critical"])
	assert.Contains(t, job.Result.Script, `str(data_row.get("email", ""))`)
	assert.Contains(t, job.Result.Script, "Signup")

	assert.Equal(t, []string{eventbus.TypeJobCreated, eventbus.TypeJobCompleted}, eventTypes(f.bus))
	assert.Equal(t, job.ID, f.bus.Events()[1].JobID)
}

func TestTransformAsync(t *testing.T) {
	f := newFixture(t, Options{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.srv.Start(ctx))
	defer func() {
		cancel()
		f.srv.Wait()
	}()

	rec := f.do(t, http.MethodPost, "/api/v1/transform", jobstore.Request{Source: `page.goto("https://example.com")`})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	id := accepted["job_id"]
	assert.Equal(t, "pending", accepted["status"])

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/transform/"+id, nil)
		var job jobstore.Job
		_ = json.Unmarshal(rec.Body.Bytes(), &job)
		return job.Status == jobstore.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/transform?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs  []jobstore.Job `json:"jobs"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Jobs[0].ID)
}

func TestTransformRejectsBadRequests(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/v1/transform", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/transform", jobstore.Request{Source: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/transform/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job nope not found")

	rec = f.do(t, http.MethodGet, "/api/v1/transform?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/transform/nope", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 1})

	rec := f.do(t, http.MethodPost, "/api/v1/transform", jobstore.Request{Source: "page.goto(\"a\")"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/transform", jobstore.Request{Source: "page.goto(\"b\")"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	jobs, err := f.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	statuses := map[jobstore.Status]int{}
	for _, j := range jobs {
		statuses[j.Status]++
	}
	assert.Equal(t, map[jobstore.Status]int{jobstore.StatusPending: 1, jobstore.StatusFailed: 1}, statuses)
	assert.Contains(t, eventTypes(f.bus), eventbus.TypeJobFailed)
}

func TestAssemble(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/v1/assemble", AssembleRequest{
		Title: "Demo",
		Code:  "page.goto(\"https://example.com\")\n",
		CSV:   "email,name\na@example.com,Ann\n",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/x-python; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "CSV_EMBED_MODE = True")
	assert.Contains(t, body, `"email": "a@example.com"`)
	assert.Contains(t, body, "        page.goto(\"https://example.com\")\n")

	rec = f.do(t, http.MethodPost, "/api/v1/assemble", AssembleRequest{Code: "pass", CSVFilename: "people.csv"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `CSV_FILENAME = "people.csv"`)

	rec = f.do(t, http.MethodPost, "/api/v1/assemble", AssembleRequest{Code: "pass", CSV: "\n"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.do(t, http.MethodPost, "/api/v1/transform", TransformRequest{Request: jobstore.Request{Source: recording}, Wait: true})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `formflow_transform_jobs_total{status="completed"} 1`)
	assert.Contains(t, body, `formflow_http_requests_total{code="2xx",route="/api/v1/transform"} 1`)
	assert.Contains(t, body, "formflow_transform_duration_seconds_count 1")
}

func TestSweepRemovesOldJobs(t *testing.T) {
	f := newFixture(t, Options{RetentionMaxAge: time.Hour})
	ctx := context.Background()

	job, err := f.store.Create(ctx, jobstore.Request{Source: "x"})
	require.NoError(t, err)
	job.SetStatus(jobstore.StatusCompleted, time.Now().Add(-2*time.Hour))
	require.NoError(t, f.store.Update(ctx, job))
	fresh, err := f.store.Create(ctx, jobstore.Request{Source: "y"})
	require.NoError(t, err)

	f.srv.sweep(ctx)

	_, err = f.store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
	_, err = f.store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, Options{RetentionSchedule: "every tuesday", RetentionMaxAge: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, f.srv.Start(ctx))
}
