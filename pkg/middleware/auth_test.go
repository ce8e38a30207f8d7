package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/config"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedRequest(t *testing.T, cfg *config.AuthConfig, mutate func(*http.Request)) (*httptest.ResponseRecorder, uuid.UUID, bool) {
	t.Helper()

	var gotUser uuid.UUID
	var gotOK bool
	handler := Auth(cfg, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotOK = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/encounters", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotUser, gotOK
}

func TestAuthAcceptsValidToken(t *testing.T) {
	userID := uuid.New()
	cfg := &config.AuthConfig{EnableVerification: true, Secret: testSecret}

	rec, gotUser, gotOK := authedRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userID.String()))
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotOK)
	assert.Equal(t, userID, gotUser)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: true, Secret: testSecret}

	rec, _, _ := authedRequest(t, cfg, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: true, Secret: testSecret}

	rec, _, _ := authedRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", uuid.NewString()))
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: true, Secret: testSecret}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	rec, _, _ := authedRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsNonUUIDSubject(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: true, Secret: testSecret}

	rec, _, _ := authedRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice"))
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledUsesDevUser(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: false}

	rec, gotUser, gotOK := authedRequest(t, cfg, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotOK)
	assert.Equal(t, devUserID, gotUser)
}

func TestAuthDisabledHonorsUserHeader(t *testing.T) {
	cfg := &config.AuthConfig{EnableVerification: false}
	userID := uuid.New()

	_, gotUser, gotOK := authedRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("X-User-ID", userID.String())
	})
	require.True(t, gotOK)
	assert.Equal(t, userID, gotUser)
}
