// Package httpapi exposes the workflow services over REST.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/training_workflow/internal/app"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/services/lifecycle"
	"github.com/R3E-Network/training_workflow/internal/app/services/sessions"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/internal/httputil"
	"github.com/R3E-Network/training_workflow/internal/middleware"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Options configures the HTTP surface. The zero value authenticates with the
// X-Actor-ID header, applies no rate limit and keeps audit entries in memory
// only.
type Options struct {
	JWTSecret    string
	JWTIssuer    string
	CORSOrigins  []string
	Limiter      *middleware.RateLimiter
	AuditLogPath string
	AuditSize    int
}

// API is the REST handler. Close releases the audit sink.
type API struct {
	app     *app.Application
	audit   *auditLog
	sink    *fileAuditSink
	handler http.Handler
}

// New builds the router over application.
func New(application *app.Application, opts Options, log *logger.Logger) (*API, error) {
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, err
	}
	var persist auditSink
	if sink != nil {
		persist = sink
	}
	a := &API{
		app:   application,
		audit: newAuditLog(opts.AuditSize, persist, log.Named("audit")),
		sink:  sink,
	}

	r := mux.NewRouter()
	r.Use(middleware.Tracing(log))
	r.Use(middleware.Metrics())
	r.Use(middleware.NewActorAuth(opts.JWTSecret, opts.JWTIssuer, log.Named("auth"), []string{"/healthz", "/metrics"}).Handler)
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Handler)
	}
	r.Use(a.audit.middleware)

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/audit", a.listAudit).Methods(http.MethodGet)

	r.HandleFunc("/locations", a.createLocation).Methods(http.MethodPost)

	r.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", a.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/validate", a.validateSessions).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", a.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", a.updateSession).Methods(http.MethodPatch)
	r.HandleFunc("/sessions/{id}/transitions", a.applyTransition).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/history", a.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/readiness", a.getReadiness).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/publishing", a.getPublishing).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/publish", a.publish).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/content", a.setContent).Methods(http.MethodPut)
	r.HandleFunc("/sessions/{id}/content/generate", a.generateContent).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/content/versions", a.listVersions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/content/versions/{version}/restore", a.restoreVersion).Methods(http.MethodPost)

	r.HandleFunc("/workflow/health", a.workflowHealth).Methods(http.MethodGet)
	r.HandleFunc("/workflow/metrics", a.workflowMetrics).Methods(http.MethodGet)

	var h http.Handler = r
	if len(opts.CORSOrigins) > 0 {
		h = middleware.CORS(opts.CORSOrigins)(r)
	}
	a.handler = h
	return a, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Close closes the audit file, if any.
func (a *API) Close() error {
	return a.sink.Close()
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, r, apperrors.InvalidInput("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": a.audit.listLimit(limit)})
}

func (a *API) createLocation(w http.ResponseWriter, r *http.Request) {
	var payload sessions.NewLocation
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	loc, err := a.app.Sessions.CreateLocation(r.Context(), payload)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, loc)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var payload sessions.NewSession
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	sess, err := a.app.Sessions.Create(r.Context(), payload, logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	for _, raw := range r.URL.Query()["status"] {
		statuses = append(statuses, strings.Split(raw, ",")...)
	}
	out, err := a.app.Sessions.List(r.Context(), statuses)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if out == nil {
		out = []session.Session{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.app.Sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) updateSession(w http.ResponseWriter, r *http.Request) {
	var patch sessions.DetailsPatch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	sess, err := a.app.Sessions.UpdateDetails(r.Context(), mux.Vars(r)["id"], patch, logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) applyTransition(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status    string `json:"status"`
		Reason    string `json:"reason"`
		Automated bool   `json:"automated"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	target, ok := session.ParseStatus(payload.Status)
	if !ok {
		httputil.WriteError(w, r, apperrors.InvalidInput("status", "unknown status "+payload.Status))
		return
	}
	sess, err := a.app.Lifecycle.ApplyTransition(r.Context(), lifecycle.Request{
		SessionID: mux.Vars(r)["id"],
		Target:    target,
		Actor:     logger.Actor(r.Context()),
		Automated: payload.Automated,
		Reason:    payload.Reason,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := a.app.Lifecycle.GetHistory(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"session_id": id, "entries": entries})
}

func (a *API) getReadiness(w http.ResponseWriter, r *http.Request) {
	verdict, err := a.app.Readiness.Evaluate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verdict)
}

func (a *API) getPublishing(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.app.Publishing.ValidatePublishingRules(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

func (a *API) publish(w http.ResponseWriter, r *http.Request) {
	sess, err := a.app.Publishing.Publish(r.Context(), mux.Vars(r)["id"], logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) validateSessions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionIDs []string `json:"session_ids"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	results, err := a.app.Publishing.ValidateMultipleSessions(r.Context(), payload.SessionIDs)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) setContent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content  json.RawMessage   `json:"content"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	version, err := a.app.Content.SetContent(r.Context(), mux.Vars(r)["id"], payload.Content, payload.Metadata, logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, version)
}

func (a *API) generateContent(w http.ResponseWriter, r *http.Request) {
	version, err := a.app.Content.Generate(r.Context(), mux.Vars(r)["id"], logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, version)
}

func (a *API) listVersions(w http.ResponseWriter, r *http.Request) {
	list, err := a.app.Content.ListVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (a *API) restoreVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	number, err := strconv.Atoi(vars["version"])
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("version", "must be an integer"))
		return
	}
	version, err := a.app.Content.RestoreVersion(r.Context(), vars["id"], number, logger.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, version)
}

func (a *API) workflowHealth(w http.ResponseWriter, r *http.Request) {
	report, err := a.app.Monitor.PerformHealthCheck(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (a *API) workflowMetrics(w http.ResponseWriter, r *http.Request) {
	out, err := a.app.Monitor.CollectWorkflowMetrics(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
