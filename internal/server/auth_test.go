package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAuthenticateDevMode(t *testing.T) {
	a := NewAuthenticator("")
	require.True(t, a.DevMode())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, errUnauthenticated)

	r.Header.Set("X-User-ID", "7")
	id, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	r = httptest.NewRequest(http.MethodGet, "/ws?userId=9", nil)
	id, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "9", id)
}

func TestAuthenticateToken(t *testing.T) {
	a := NewAuthenticator("s3cret")
	require.False(t, a.DevMode())

	token, err := a.IssueToken("42")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/dm/1", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	id, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	r = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	id, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator("s3cret")

	forged, err := NewAuthenticator("other").IssueToken("42")
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "42"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":    "",
		"garbage":    "not-a-token",
		"forged":     forged,
		"no subject": noSubject,
		"expired":    expired,
		"alg none":   unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/dm/1", nil)
			if token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
			r.Header.Set("X-User-ID", "42")
			_, err := a.Authenticate(r)
			assert.ErrorIs(t, err, errUnauthenticated)
		})
	}
}

func TestRequireActorSetsContext(t *testing.T) {
	s := &Server{auth: NewAuthenticator(""), logger: zaptest.NewLogger(t)}
	var seen string
	h := s.requireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Actor(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dm/2", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"authentication required"}`, rec.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/dm/2", nil)
	r.Header.Set("X-User-ID", "1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", seen)
}
