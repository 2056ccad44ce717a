package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/middleware"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Runs the publishing flow over HTTP against Postgres to make sure the
// migrations and the store agree.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = dsn
	cfg.Database.MigrateOnStart = true

	ctx := context.Background()
	rt, err := NewApplication(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(ctx) })
	h := rt.Handler()

	call := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set(middleware.ActorHeader, "integration")
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		return resp
	}

	start := time.Now().UTC().Add(90 * 24 * time.Hour).Truncate(time.Second)
	resp := call(http.MethodPost, "/sessions", map[string]any{
		"title":             "Integration session",
		"starts_at":         start,
		"ends_at":           start.Add(time.Hour),
		"max_registrations": 10,
		"topics": []map[string]any{
			{"title": "Only topic", "description": "Covers everything", "duration_minutes": 60, "trainer_id": "it-trainer-" + start.Format("150405")},
		},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var sess session.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sess))

	resp = call(http.MethodPut, "/sessions/"+sess.ID+"/content", map[string]any{"content": map[string]string{"headline": "v1"}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = call(http.MethodPost, "/sessions/"+sess.ID+"/transitions", map[string]any{"status": "READY"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = call(http.MethodPost, "/sessions/"+sess.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = call(http.MethodGet, "/sessions/"+sess.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var hist struct {
		Entries []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &hist))
	require.Len(t, hist.Entries, 2)
}
