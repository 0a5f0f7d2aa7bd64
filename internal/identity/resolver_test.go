package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: subject,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestResolver_AuthenticatedSubject(t *testing.T) {
	resolver := NewResolver("test-secret")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "user-42"))

	assert.Equal(t, "user:user-42", resolver.ClientID(req))
}

func TestResolver_BadSignatureFallsBackToIP(t *testing.T) {
	resolver := NewResolver("test-secret")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong-secret", "user-42"))

	assert.Equal(t, "ip:203.0.113.7", resolver.ClientID(req))
}

func TestResolver_UnverifiedClaimsWithoutSecret(t *testing.T) {
	resolver := NewResolver("")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "any-secret", "user-42"))

	assert.Equal(t, "user:user-42", resolver.ClientID(req))
}

func TestResolver_NoToken(t *testing.T) {
	resolver := NewResolver("test-secret")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	assert.Equal(t, "ip:203.0.113.7", resolver.ClientID(req))
}

func TestResolver_MalformedToken(t *testing.T) {
	resolver := NewResolver("test-secret")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer not.a.jwt")

	assert.Equal(t, "ip:203.0.113.7", resolver.ClientID(req))
}

func TestResolver_TokenWithoutSubject(t *testing.T) {
	resolver := NewResolver("test-secret")

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", ""))

	assert.Equal(t, "ip:203.0.113.7", resolver.ClientID(req))
}

func TestClientIP(t *testing.T) {
	t.Run("prefers first X-Forwarded-For entry", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
		assert.Equal(t, "198.51.100.4", clientIP(req))
	})

	t.Run("strips port from remote address", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.9:43210"
		assert.Equal(t, "192.0.2.9", clientIP(req))
	})

	t.Run("handles address without port", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.9"
		assert.Equal(t, "192.0.2.9", clientIP(req))
	})
}
