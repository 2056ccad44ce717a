package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const secret = "test-secret"

func token(t *testing.T, subject string, expiresIn time.Duration, method jwt.SigningMethod, key any) string {
	t.Helper()
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "workflow",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(logger.Actor(r.Context())))
	})
}

func TestActorAuthWithToken(t *testing.T) {
	auth := NewActorAuth(secret, "workflow", logger.NewNop(), []string{"/healthz"})
	handler := auth.Handler(echoActor())

	tests := []struct {
		name   string
		header string
		status int
		actor  string
	}{
		{"valid", "Bearer " + token(t, "alice", time.Hour, jwt.SigningMethodHS256, []byte(secret)), http.StatusOK, "alice"},
		{"expired", "Bearer " + token(t, "alice", -time.Hour, jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + token(t, "alice", time.Hour, jwt.SigningMethodHS256, []byte("other")), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + token(t, "", time.Hour, jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized, ""},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"missing", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.actor != "" {
				require.Equal(t, tc.actor, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestActorAuthHeaderFallback(t *testing.T) {
	handler := NewActorAuth("", "", logger.NewNop(), nil).Handler(echoActor())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set(ActorHeader, "bob")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bob", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestRateLimiterPerActor(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, logger.NewNop())
	handler := NewActorAuth("", "", logger.NewNop(), nil).Handler(rl.Handler(echoActor()))

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set(ActorHeader, actor)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, send("alice"))
	require.Equal(t, http.StatusTooManyRequests, send("alice"))
	require.Equal(t, http.StatusOK, send("bob"))

	require.Equal(t, 0, rl.Cleanup(time.Now()))
	require.Equal(t, 2, rl.Cleanup(time.Now().Add(time.Hour)))
}

func TestTracingPropagatesTraceID(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(Tracing(logger.NewNop()), Metrics())
	router.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = logger.TraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/1", nil)
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "trace-abc", seen)
	require.Equal(t, "trace-abc", rec.Header().Get(TraceHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/2", nil))
	require.NotEmpty(t, rec.Header().Get(TraceHeader))
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"https://admin.example.com"})(echoActor())

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
