// Package api provides an HTTP API over a build session.
// It exposes REST endpoints for builds, instances and invocation, SSE for
// session events, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/dyncomp/internal/dispatch"
	"github.com/zjrosen/dyncomp/internal/factory"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/journal"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/handler"
	"github.com/zjrosen/dyncomp/internal/orchestration/session"
	"github.com/zjrosen/dyncomp/internal/orchestration/tracing"
	"github.com/zjrosen/dyncomp/internal/presentation"
	"github.com/zjrosen/dyncomp/internal/registry"
	"github.com/zjrosen/dyncomp/internal/schema"
)

// Handler provides HTTP endpoints for session operations.
type Handler struct {
	session  *session.Session
	root     any
	journal  *journal.Store
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Session runs every operation (required).
	Session *session.Session
	// Root is the container top-level instances are placed in (required).
	Root any
	// Journal serves GET /history (optional).
	Journal *journal.Store
	// Gatherer serves GET /metrics (optional).
	Gatherer prometheus.Gatherer
	// Tracer records one span per request (optional).
	Tracer trace.Tracer
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Handler{
		session:  cfg.Session,
		root:     cfg.Root,
		journal:  cfg.Journal,
		gatherer: cfg.Gatherer,
		tracer:   tracer,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.traced(pattern, fn))
	}

	// Schemas
	handle("POST /plans", h.Plan)
	handle("POST /builds", h.Build)

	// Instances
	handle("GET /instances", h.ListInstances)
	handle("POST /instances", h.CreateInstance)
	handle("GET /instances/{id}", h.GetInstance)
	handle("DELETE /instances/{id}", h.RemoveInstance)
	handle("POST /instances/{id}/rename", h.RenameInstance)
	handle("POST /instances/{id}/invoke", h.InvokeMember)
	handle("GET /instances/{id}/await", h.AwaitInstance)
	handle("POST /rename-matching", h.RenameMatching)

	// Session state
	handle("GET /mode", h.GetMode)
	handle("PUT /mode", h.SetMode)
	handle("GET /stats", h.Stats)
	handle("GET /history", h.History)
	handle("GET /events", h.StreamEvents)
	handle("GET /health", h.Health)

	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// === Request/Response Types ===

// SchemaRequest carries a JSON or YAML schema document and its parameters.
// Params fill the document's keys in declared order. Name is sent as
// parameter 0 and defaults to the document's name.
type SchemaRequest struct {
	Schema string   `json:"schema"`
	Name   string   `json:"name,omitempty"`
	Params []string `json:"params,omitempty"`
}

// BuildResponse is the response body for a build.
type BuildResponse struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
	// Status is "completed" in immediate mode and "queued" in deferred mode.
	Status string `json:"status"`
}

// CreateInstanceRequest is the request body for creating one instance.
type CreateInstanceRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	// Parent is a registered identifier. Empty places the instance in the
	// root container.
	Parent     string            `json:"parent,omitempty"`
	Properties schema.Properties `json:"properties,omitempty"`
}

// InstanceResponse describes one registered instance.
type InstanceResponse struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Members []string `json:"members,omitempty"`
}

// ListInstancesResponse is the response body for listing instances.
type ListInstancesResponse struct {
	Instances  []InstanceResponse `json:"instances"`
	LastUsedID string             `json:"last_used_id,omitempty"`
	Total      int                `json:"total"`
}

// RenameRequest is the request body for renaming one instance.
type RenameRequest struct {
	NewID string `json:"new_id"`
}

// RenameMatchingRequest is the request body for bulk renames.
type RenameMatchingRequest struct {
	Fragment    string `json:"fragment"`
	Replacement string `json:"replacement"`
}

// RenameMatchingResponse lists the identifiers after renaming.
type RenameMatchingResponse struct {
	Renamed []string `json:"renamed"`
}

// InvokeRequest is the request body for invoking a member.
type InvokeRequest struct {
	Member string `json:"member"`
	Args   []any  `json:"args,omitempty"`
}

// InvokeResponse carries a member's result. Members without a result
// return "".
type InvokeResponse struct {
	Result any `json:"result"`
}

// ModeRequest is the request and response body for the execution mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response body for the health check.
type HealthResponse struct {
	Status string        `json:"status"`
	Mode   string        `json:"mode"`
	Stats  session.Stats `json:"stats"`
}

// === Handlers ===

// Plan compiles a schema without building it.
// POST /plans
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := schema.Parse([]byte(req.Schema))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	params := schema.Arguments(doc, req.Name, req.Params)
	plan, err := schema.Compile(doc, params)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	dto := presentation.FromPlan(doc.Name, params, plan)
	dto.Warnings = schema.UndeclaredPlaceholders(doc)
	h.writeJSON(w, http.StatusOK, dto)
}

// Build compiles and builds a schema into the root container.
// POST /builds
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := schema.Parse([]byte(req.Schema))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.session.BuildDocument(r.Context(), h.root, doc, schema.Arguments(doc, req.Name, req.Params)); err != nil {
		h.writeErr(w, err)
		return
	}

	mode := h.session.Mode()
	resp := BuildResponse{Name: doc.Name, Mode: mode.String(), Status: "completed"}
	status := http.StatusCreated
	if mode == session.ModeDeferred {
		resp.Status = "queued"
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

// ListInstances lists every registered instance.
// GET /instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.session.IDs(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := ListInstancesResponse{Instances: make([]InstanceResponse, 0, len(ids))}
	for _, id := range ids {
		inst, ok, err := h.session.Lookup(ctx, id)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		if !ok {
			continue
		}
		resp.Instances = append(resp.Instances, describe(id, inst, false))
	}
	resp.Total = len(resp.Instances)
	if resp.LastUsedID, err = h.session.LastUsedID(ctx); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateInstance creates one instance with optional properties.
// POST /instances
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Type == "" || req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "type and id are required", "")
		return
	}

	var container any = h.root
	if req.Parent != "" {
		container = req.Parent
	}
	if err := h.session.CreateWithProperties(r.Context(), container, req.Type, req.ID, req.Properties); err != nil {
		h.writeErr(w, err)
		return
	}

	if h.session.Mode() == session.ModeDeferred {
		h.writeJSON(w, http.StatusAccepted, InstanceResponse{ID: req.ID, Type: req.Type})
		return
	}
	inst, ok, err := h.session.Lookup(r.Context(), req.ID)
	if err != nil || !ok {
		h.writeJSON(w, http.StatusCreated, InstanceResponse{ID: req.ID, Type: req.Type})
		return
	}
	h.writeJSON(w, http.StatusCreated, describe(req.ID, inst, false))
}

// GetInstance describes one instance and its members.
// GET /instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, ok, err := h.session.Lookup(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no instance %q", id), "")
		return
	}
	h.writeJSON(w, http.StatusOK, describe(id, inst, true))
}

// RemoveInstance unregisters and detaches an instance.
// DELETE /instances/{id}
func (h *Handler) RemoveInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := h.session.Remove(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no instance %q", id), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameInstance moves an instance to a new identifier.
// POST /instances/{id}/rename
func (h *Handler) RenameInstance(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.session.Rename(r.Context(), r.PathValue("id"), req.NewID); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RenameMatchingResponse{Renamed: []string{req.NewID}})
}

// RenameMatching replaces a fragment in every identifier containing it.
// POST /rename-matching
func (h *Handler) RenameMatching(w http.ResponseWriter, r *http.Request) {
	var req RenameMatchingRequest
	if !h.decode(w, r, &req) {
		return
	}
	renamed, err := h.session.RenameMatching(r.Context(), req.Fragment, req.Replacement)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if renamed == nil {
		renamed = []string{}
	}
	h.writeJSON(w, http.StatusOK, RenameMatchingResponse{Renamed: renamed})
}

// InvokeMember calls a member by name.
// POST /instances/{id}/invoke
func (h *Handler) InvokeMember(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Member == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "member is required", "")
		return
	}
	result, err := h.session.Invoke(r.Context(), r.PathValue("id"), req.Member, req.Args...)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, InvokeResponse{Result: result})
}

// AwaitInstance blocks until the identifier is registered.
// GET /instances/{id}/await?timeout=5s
func (h *Handler) AwaitInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "timeout must be a positive duration", raw)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	id := r.PathValue("id")
	inst, err := h.session.Await(ctx, id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, describe(id, inst, false))
}

// GetMode returns the execution mode.
// GET /mode
func (h *Handler) GetMode(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, ModeRequest{Mode: h.session.Mode().String()})
}

// SetMode switches the execution mode.
// PUT /mode
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !h.decode(w, r, &req) {
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.session.SetMode(mode); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ModeRequest{Mode: mode.String()})
}

// Stats returns executor counters.
// GET /stats
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Stats())
}

// History lists recent journaled builds.
// GET /history?limit=20
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusNotFound, "journal_disabled", "Build journal is disabled", "")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer", raw)
			return
		}
		limit = n
	}

	builds, err := h.journal.RecentBuilds(r.Context(), limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if builds == nil {
		builds = []journal.Build{}
	}
	h.writeJSON(w, http.StatusOK, builds)
}

// Health reports liveness and executor counters.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Mode:   h.session.Mode().String(),
		Stats:  h.session.Stats(),
	})
}

// === Helpers ===

func describe(id string, inst instance.Instance, withMembers bool) InstanceResponse {
	resp := InstanceResponse{ID: id, Type: typeName(inst)}
	if withMembers {
		for _, m := range inst.Members() {
			resp.Members = append(resp.Members, m.String())
		}
	}
	return resp
}

func typeName(inst instance.Instance) string {
	v := instance.Unwrap(inst)
	if k, ok := v.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", v)
}

func (h *Handler) traced(pattern string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), tracing.SpanPrefixAPI+pattern,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", pattern)),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// statusRecorder captures the response status for spans.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// errorStatus maps the error taxonomy onto HTTP status codes.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{registry.ErrDuplicateIdentifier, http.StatusConflict, "duplicate_identifier"},
	{registry.ErrInvalidIdentifier, http.StatusNotFound, "invalid_identifier"},
	{handler.ErrMissingParent, http.StatusUnprocessableEntity, "missing_parent"},
	{factory.ErrUnknownType, http.StatusUnprocessableEntity, "unknown_type"},
	{factory.ErrConstruction, http.StatusUnprocessableEntity, "construction_failed"},
	{schema.ErrUnsupportedSchemaVersion, http.StatusBadRequest, "unsupported_schema_version"},
	{schema.ErrParameterCountMismatch, http.StatusBadRequest, "parameter_count_mismatch"},
	{schema.ErrMissingRequiredField, http.StatusBadRequest, "missing_required_field"},
	{schema.ErrEmptySchema, http.StatusBadRequest, "empty_schema"},
	{schema.ErrMalformedSchema, http.StatusBadRequest, "malformed_schema"},
	{schema.ErrDuplicateRecord, http.StatusBadRequest, "duplicate_record"},
	{dispatch.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{dispatch.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{dispatch.ErrNilInstance, http.StatusBadRequest, "nil_instance"},
	{dispatch.ErrInvocationFailed, http.StatusUnprocessableEntity, "invocation_failed"},
	{handler.ErrCreationFailed, http.StatusUnprocessableEntity, "creation_failed"},
	{session.ErrInvalidMode, http.StatusBadRequest, "invalid_mode"},
	{session.ErrAwaitTimeout, http.StatusGatewayTimeout, "await_timeout"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "await_timeout"},
	{session.ErrClosed, http.StatusServiceUnavailable, "session_closed"},
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			h.writeError(w, e.status, e.code, err.Error(), "")
			return
		}
	}
	log.ErrorErr(log.CatAPI, "Unhandled API error", err)
	h.writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
