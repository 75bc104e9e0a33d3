package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var errUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the acting user of a request. With a secret it
// verifies an HS256 token whose subject is the user id; without one it trusts
// the X-User-ID header or userId query parameter, for local development only.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// DevMode reports whether identities are taken from the request unverified.
func (a *Authenticator) DevMode() bool {
	return len(a.secret) == 0
}

func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.DevMode() {
		id := r.Header.Get("X-User-ID")
		if id == "" {
			id = r.URL.Query().Get("userId")
		}
		if strings.TrimSpace(id) == "" {
			return "", errUnauthenticated
		}
		return id, nil
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		// browsers cannot set headers on websocket upgrades
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errUnauthenticated
	}
	return a.verify(token)
}

func (a *Authenticator) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", errUnauthenticated)
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID. It is used by tests and tooling.
func (a *Authenticator) IssueToken(userID string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: userID}).SignedString(a.secret)
}

type actorKey struct{}

func withActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor returns the authenticated user id stored on ctx.
func Actor(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// requireActor rejects requests without a valid identity.
func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.Info("request_unauthenticated", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), userID)))
	})
}
