package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/dyncomp/internal/host"
	"github.com/zjrosen/dyncomp/internal/journal"
	"github.com/zjrosen/dyncomp/internal/orchestration/metrics"
	"github.com/zjrosen/dyncomp/internal/orchestration/session"
	"github.com/zjrosen/dyncomp/internal/presentation"
	"github.com/zjrosen/dyncomp/internal/testutil"
)

type fixture struct {
	session *session.Session
	handler http.Handler
	journal *journal.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	table, err := host.NewTable("")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, err := session.New(table, session.WithMiddleware(metrics.NewMiddleware(m)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store.Attach(ctx, s.Broker())

	h := NewHandler(HandlerConfig{
		Session:  s,
		Root:     host.NewScreen("main"),
		Journal:  store,
		Gatherer: reg,
	})
	return &fixture{session: s, handler: h.Routes(), journal: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *fixture) build(t *testing.T, params ...string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/builds", SchemaRequest{
		Schema: string(testutil.BoxSchema(t).JSON()),
		Params: params,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandler_Plan(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/plans", SchemaRequest{
		Schema: string(testutil.FormSchema(t).YAML()),
		Params: []string{"pay", "Send"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	plan := decode[presentation.PlanDTO](t, w)
	require.Len(t, plan.Records, 4)
	assert.Equal(t, "pay_form", plan.Records[0].ID)
	assert.Equal(t, "pay_form", plan.Records[3].ParentID)
	assert.Equal(t, 1, plan.Records[3].Depth)
	assert.Empty(t, plan.Warnings)

	ids, err := f.session.IDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "planning must not build")
}

func TestHandler_PlanParameters(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/plans", SchemaRequest{
		Schema: string(testutil.FormSchema(t).YAML()),
		Params: []string{"pay", "Send"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[presentation.PlanDTO](t, w)
	assert.Equal(t, "Form", plan.Name)
	assert.Equal(t, []string{"Form", "pay", "Send"}, plan.Parameters)

	w = f.do(t, http.MethodPost, "/plans", SchemaRequest{
		Schema: string(testutil.FormSchema(t).JSON()),
		Name:   "Checkout",
		Params: []string{"pay", "Send"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan = decode[presentation.PlanDTO](t, w)
	assert.Equal(t, "Form", plan.Name)
	assert.Equal(t, []string{"Checkout", "pay", "Send"}, plan.Parameters)
}

func TestHandler_Build(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	w := f.do(t, http.MethodGet, "/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListInstancesResponse](t, w)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "lbl1", list.LastUsedID)

	w = f.do(t, http.MethodGet, "/instances/lbl1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inst := decode[InstanceResponse](t, w)
	assert.Equal(t, "Label", inst.Type)
	assert.NotEmpty(t, inst.Members)
}

func TestHandler_BuildErrors(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "invalid json", body: "not json", status: http.StatusBadRequest, code: "invalid_json"},
		{name: "duplicate identifier", body: SchemaRequest{Schema: string(testutil.BoxSchema(t).JSON()), Params: []string{"1"}},
			status: http.StatusConflict, code: "duplicate_identifier"},
		{name: "parameter mismatch", body: SchemaRequest{Schema: string(testutil.BoxSchema(t).JSON())},
			status: http.StatusBadRequest, code: "parameter_count_mismatch"},
		{name: "unsupported version", body: SchemaRequest{Schema: string(testutil.BoxSchema(t).WithVersion(2).JSON()), Params: []string{"2"}},
			status: http.StatusBadRequest, code: "unsupported_schema_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/builds", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandler_CreateInstance(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	body := `{"type":"Button","id":"ok","parent":"box1","properties":{"Text":"OK","Enabled":false}}`
	w := f.do(t, http.MethodPost, "/instances", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Button", decode[InstanceResponse](t, w).Type)

	w = f.do(t, http.MethodPost, "/instances/ok/invoke", InvokeRequest{Member: "Text"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", decode[InvokeResponse](t, w).Result)

	w = f.do(t, http.MethodPost, "/instances", CreateInstanceRequest{Type: "Label", ID: "x", Parent: "nowhere"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_parent", decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/instances", CreateInstanceRequest{ID: "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_InvokeMember(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/builds", SchemaRequest{
		Schema: string(testutil.FormSchema(t).JSON()),
		Params: []string{"pay", "Send"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	tests := []struct {
		name   string
		target string
		req    InvokeRequest
		status int
		result any
		code   string
	}{
		{name: "getter", target: "pay_submit", req: InvokeRequest{Member: "Text"}, status: http.StatusOK, result: "Send"},
		{name: "setter returns empty", target: "pay_input", req: InvokeRequest{Member: "Text", Args: []any{"42"}}, status: http.StatusOK, result: ""},
		{name: "member error", target: "pay_input", req: InvokeRequest{Member: "Text", Args: []any{"abc"}},
			status: http.StatusUnprocessableEntity, code: "invocation_failed"},
		{name: "unknown member", target: "pay_input", req: InvokeRequest{Member: "Explode"},
			status: http.StatusNotFound, code: "member_not_found"},
		{name: "unknown target", target: "nope", req: InvokeRequest{Member: "Text"},
			status: http.StatusNotFound, code: "invalid_identifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/instances/"+tt.target+"/invoke", tt.req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
				return
			}
			assert.Equal(t, tt.result, decode[InvokeResponse](t, w).Result)
		})
	}
}

func TestHandler_RemoveAndRename(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	w := f.do(t, http.MethodPost, "/instances/lbl1/rename", RenameRequest{NewID: "title"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/instances/box1/rename", RenameRequest{NewID: "title"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/instances/title", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/instances/title", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RenameMatching(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/builds", SchemaRequest{
		Schema: string(testutil.FormSchema(t).JSON()),
		Params: []string{"pay", "Send"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, "/instances", CreateInstanceRequest{Type: "Label", ID: "pay"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/rename-matching", RenameMatchingRequest{Fragment: "pay", Replacement: "tip"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	renamed := decode[RenameMatchingResponse](t, w).Renamed
	assert.Contains(t, renamed, "tip_form")
	assert.Contains(t, renamed, "tip")

	w = f.do(t, http.MethodGet, "/instances/tip_submit", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_AwaitInstance(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	w := f.do(t, http.MethodGet, "/instances/box1/await", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/instances/later/await?timeout=50ms", nil)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = f.do(t, http.MethodGet, "/instances/later/await?timeout=soon", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeferredMode(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/mode", ModeRequest{Mode: "deferred"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/builds", SchemaRequest{
		Schema: string(testutil.BoxSchema(t).JSON()),
		Params: []string{"1"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "queued", decode[BuildResponse](t, w).Status)

	w = f.do(t, http.MethodGet, "/instances/lbl1/await?timeout=2s", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/mode", ModeRequest{Mode: "threaded"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_mode", decode[ErrorResponse](t, w).Code)
}

func TestHandler_History(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	require.Eventually(t, func() bool {
		builds, err := f.journal.RecentBuilds(context.Background(), 10)
		return err == nil && len(builds) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := f.do(t, http.MethodGet, "/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	builds := decode[[]journal.Build](t, w)
	require.Len(t, builds, 1)
	assert.Equal(t, journal.OutcomeCompleted, builds[0].Outcome)
	assert.Equal(t, 2, builds[0].Created)

	w = f.do(t, http.MethodGet, "/history?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_HistoryDisabled(t *testing.T) {
	table, err := host.NewTable("")
	require.NoError(t, err)
	s, err := session.New(table)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	h := NewHandler(HandlerConfig{Session: s, Root: host.NewScreen("main")}).Routes()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_MetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.build(t, "1")

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dyncomp_commands_total")

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "immediate", health.Mode)
	assert.Positive(t, health.Stats.Processed)
}

func TestHandler_StreamEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "event: connected")

	f.build(t, "1")

	var got strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(got.String(), "event: schema_completed") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.Contains(t, got.String(), "event: creation_completed")
	assert.Contains(t, got.String(), "event: schema_completed")
}
