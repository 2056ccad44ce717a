// Package middleware provides the HTTP middleware of the workflow API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/internal/httputil"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// ActorHeader carries the actor id when token authentication is disabled.
const ActorHeader = "X-Actor-ID"

// Claims are the bearer token claims. The actor is the subject.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ActorAuth resolves the acting user of each request and stores it on the
// request context.
type ActorAuth struct {
	secret    []byte
	issuer    string
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewActorAuth creates the middleware. With an empty secret the actor is read
// from the X-Actor-ID header instead of a bearer token.
func NewActorAuth(secret, issuer string, log *logger.Logger, skipPaths []string) *ActorAuth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &ActorAuth{secret: []byte(secret), issuer: issuer, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *ActorAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := m.resolve(r)
		if err != nil {
			m.log.WithContext(r.Context()).WithError(err).
				WithField("path", r.URL.Path).
				WithField("method", r.Method).
				Warn("authentication failed")
			httputil.WriteError(w, r, err)
			return
		}

		ctx := logger.WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ActorAuth) resolve(r *http.Request) (string, error) {
	if len(m.secret) == 0 {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			return "", apperrors.Unauthorized("missing " + ActorHeader + " header")
		}
		return actor, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", apperrors.Unauthorized("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.Unauthorized("invalid Authorization header format")
	}
	claims, err := m.validateToken(parts[1])
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (m *ActorAuth) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		svcErr := apperrors.Unauthorized("invalid token")
		svcErr.Err = err
		return nil, svcErr
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Unauthorized("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, apperrors.Unauthorized("token has no subject")
	}
	return claims, nil
}

// RequireActor rejects requests that reach it without an actor.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger.Actor(r.Context()) == "" {
			httputil.Unauthorized(w, r, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
