package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/training_workflow/internal/app"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/services/content"
	"github.com/R3E-Network/training_workflow/internal/middleware"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const testActor = "alice"

func newTestAPI(t *testing.T, opts Options) *API {
	t.Helper()
	generator := content.GeneratorFunc(func(_ context.Context, snap session.Snapshot) (content.Generated, error) {
		return content.Generated{
			Content:  json.RawMessage(fmt.Sprintf(`{"headline":%q}`, snap.Session.Title)),
			Metadata: map[string]string{"generator": "test"},
		}, nil
	})
	application, err := app.New(app.Stores{}, app.Options{Generator: generator}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	api, err := New(application, opts, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })
	return api
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ActorHeader, testActor)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), dst), resp.Body.String())
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error.Code
}

func completeSessionBody(locationID string) map[string]any {
	start := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Minute)
	return map[string]any{
		"title":             "Intro to Go",
		"starts_at":         start,
		"ends_at":           start.Add(2 * time.Hour),
		"location_id":       locationID,
		"max_registrations": 20,
		"topics": []map[string]any{
			{"title": "Basics", "description": "Types and functions", "duration_minutes": 60, "trainer_id": "t-1"},
			{"title": "Lab", "description": "Build a CLI", "duration_minutes": 60, "trainer_id": "t-2"},
		},
	}
}

func TestPublishingFlow(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := do(t, api, http.MethodPost, "/locations", map[string]any{"name": "Room A", "capacity": 30})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var loc session.Location
	decode(t, resp, &loc)

	resp = do(t, api, http.MethodPost, "/sessions", completeSessionBody(loc.ID))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var sess session.Session
	decode(t, resp, &sess)
	require.Equal(t, session.StatusDraft, sess.Status)
	require.Equal(t, testActor, sess.CreatedBy)

	resp = do(t, api, http.MethodGet, "/sessions/"+sess.ID+"/readiness", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var verdict struct {
		CanPublish bool `json:"can_publish"`
	}
	decode(t, resp, &verdict)
	require.True(t, verdict.CanPublish)

	resp = do(t, api, http.MethodGet, "/sessions/"+sess.ID+"/publishing", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var outcome struct {
		CanPublish bool   `json:"can_publish"`
		Reason     string `json:"reason"`
	}
	decode(t, resp, &outcome)
	require.False(t, outcome.CanPublish)
	require.Contains(t, outcome.Reason, "DRAFT")

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/content/generate", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = do(t, api, http.MethodPut, "/sessions/"+sess.ID+"/content", map[string]any{
		"content": map[string]string{"headline": "Edited"},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/transitions", map[string]any{"status": "ready"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decode(t, resp, &sess)
	require.Equal(t, session.StatusPublished, sess.Status)

	resp = do(t, api, http.MethodGet, "/sessions/"+sess.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var hist struct {
		Entries []struct {
			NewStatus string `json:"new_status"`
			Actor     string `json:"actor"`
		} `json:"entries"`
	}
	decode(t, resp, &hist)
	require.Len(t, hist.Entries, 2)
	require.Equal(t, "PUBLISHED", hist.Entries[1].NewStatus)

	resp = do(t, api, http.MethodGet, "/sessions?status=PUBLISHED", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Sessions []session.Session `json:"sessions"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Sessions, 1)

	resp = do(t, api, http.MethodGet, "/workflow/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var health struct {
		Status string `json:"status"`
	}
	decode(t, resp, &health)
	require.Equal(t, "healthy", health.Status)

	resp = do(t, api, http.MethodGet, "/workflow/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var wm struct {
		TotalSessions int `json:"total_sessions"`
	}
	decode(t, resp, &wm)
	require.Equal(t, 1, wm.TotalSessions)
}

func TestContentVersionRoutes(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := do(t, api, http.MethodPost, "/sessions", map[string]any{"title": "Draft", "max_registrations": 10})
	require.Equal(t, http.StatusCreated, resp.Code)
	var sess session.Session
	decode(t, resp, &sess)

	for _, headline := range []string{"one", "two"} {
		resp = do(t, api, http.MethodPut, "/sessions/"+sess.ID+"/content", map[string]any{
			"content": map[string]string{"headline": headline},
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}

	resp = do(t, api, http.MethodGet, "/sessions/"+sess.ID+"/content/versions", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		CurrentVersion int  `json:"current_version"`
		HasVersions    bool `json:"has_versions"`
		Versions       []struct {
			Number int `json:"version"`
		} `json:"versions"`
	}
	decode(t, resp, &list)
	require.True(t, list.HasVersions)
	require.Equal(t, 2, list.CurrentVersion)
	require.Len(t, list.Versions, 2)

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/content/versions/1/restore", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var restored struct {
		Number int `json:"version"`
	}
	decode(t, resp, &restored)
	require.Equal(t, 3, restored.Number)

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/content/versions/9/restore", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "VERSION_NOT_FOUND", errorCode(t, resp))

	resp = do(t, api, http.MethodPost, "/sessions/"+sess.ID+"/content/versions/latest/restore", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, api, http.MethodPut, "/sessions/"+sess.ID+"/content", map[string]any{"content": nil})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := do(t, api, http.MethodPost, "/sessions", map[string]any{"title": "Draft", "max_registrations": 10})
	require.Equal(t, http.StatusCreated, resp.Code)
	var sess session.Session
	decode(t, resp, &sess)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/sessions/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"skip to published", http.MethodPost, "/sessions/" + sess.ID + "/transitions", map[string]any{"status": "PUBLISHED"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown status", http.MethodPost, "/sessions/" + sess.ID + "/transitions", map[string]any{"status": "ARCHIVED"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown field", http.MethodPost, "/sessions", map[string]any{"title": "x", "colour": "red"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"publish draft", http.MethodPost, "/sessions/" + sess.ID + "/publish", nil, http.StatusUnprocessableEntity, "CANNOT_PUBLISH"},
		{"empty batch", http.MethodPost, "/sessions/validate", map[string]any{"session_ids": []string{}}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad list filter", http.MethodGet, "/sessions?status=NOPE", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, api, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
			require.Equal(t, tc.code, errorCode(t, resp))
		})
	}

	resp = do(t, api, http.MethodGet, "/sessions/"+sess.ID+"/history", nil)
	var hist struct {
		Entries []any `json:"entries"`
	}
	decode(t, resp, &hist)
	require.Empty(t, hist.Entries)
}

func TestBatchValidation(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := do(t, api, http.MethodPost, "/sessions", map[string]any{"title": "Draft", "max_registrations": 10})
	var sess session.Session
	decode(t, resp, &sess)

	resp = do(t, api, http.MethodPost, "/sessions/validate", map[string]any{"session_ids": []string{sess.ID, "missing", sess.ID}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out struct {
		Results map[string]struct {
			Result *struct {
				CanPublish bool `json:"can_publish"`
			} `json:"result"`
			Error *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Results, 2)
	require.NotNil(t, out.Results[sess.ID].Result)
	require.False(t, out.Results[sess.ID].Result.CanPublish)
	require.NotNil(t, out.Results["missing"].Error)
	require.Equal(t, "NOT_FOUND", out.Results["missing"].Error.Code)
}

func TestActorRequired(t *testing.T) {
	api := newTestAPI(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp = httptest.NewRecorder()
		api.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestBearerTokenActor(t *testing.T) {
	const secret = "test-secret"
	api := newTestAPI(t, Options{JWTSecret: secret, JWTIssuer: "workflow"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob",
			Issuer:    "workflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"title": "Draft", "max_registrations": 10})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var sess session.Session
	decode(t, resp, &sess)
	require.Equal(t, "bob", sess.CreatedBy)

	// The header fallback is disabled once a secret is configured.
	resp = do(t, api, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, Options{Limiter: middleware.NewRateLimiter(0.001, 2, logger.NewNop())})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/sessions", nil).Code)
	}
	resp := do(t, api, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "RATE_LIMITED", errorCode(t, resp))
}

func TestAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	api := newTestAPI(t, Options{AuditLogPath: path})

	do(t, api, http.MethodPost, "/sessions", map[string]any{"title": "Draft", "max_registrations": 10})
	do(t, api, http.MethodGet, "/sessions", nil)
	do(t, api, http.MethodPost, "/sessions", map[string]any{"title": ""})

	resp := do(t, api, http.MethodGet, "/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var out struct {
		Entries []auditEntry `json:"entries"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Entries, 2)
	require.Equal(t, http.StatusCreated, out.Entries[0].Status)
	require.Equal(t, http.StatusBadRequest, out.Entries[1].Status)
	require.Equal(t, testActor, out.Entries[0].Actor)
	require.NotEmpty(t, out.Entries[0].TraceID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, bytes.Count(raw, []byte("\n")))

	resp = do(t, api, http.MethodGet, "/audit?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, Options{CORSOrigins: []string{"https://admin.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "https://admin.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
}
