// Package identity resolves the client identity a request is rate limited
// under: the authenticated subject when a bearer token is present, the
// client IP otherwise.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity key prefixes distinguish authenticated subjects from
// anonymous IPs so the two namespaces can never collide.
const (
	userPrefix = "user:"
	ipPrefix   = "ip:"
)

// Resolver extracts a stable client identity from an HTTP request.
type Resolver struct {
	secret []byte
}

// NewResolver creates a resolver. A non-empty jwtSecret enables HMAC
// signature verification of bearer tokens; with an empty secret, token
// claims are read without verification and serve only as a stable key.
func NewResolver(jwtSecret string) *Resolver {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Resolver{secret: secret}
}

// ClientID returns the identity key for the request. A bearer token with a
// usable subject claim wins; anything else falls back to the client IP, so
// an invalid token never blocks a request, it just gets IP-scoped limits.
func (r *Resolver) ClientID(req *http.Request) string {
	if sub := r.subjectFromToken(req); sub != "" {
		return userPrefix + sub
	}
	return ipPrefix + clientIP(req)
}

// subjectFromToken extracts the subject claim from a bearer token, or ""
// when the header is absent or the token is unusable.
func (r *Resolver) subjectFromToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	raw := strings.TrimSpace(auth[len(prefix):])

	var claims jwt.RegisteredClaims
	if r.secret != nil {
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return r.secret, nil
		})
		if err != nil || !token.Valid {
			return ""
		}
	} else {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
			return ""
		}
	}

	return claims.Subject
}

// clientIP returns the originating client address. The first entry of
// X-Forwarded-For wins when a proxy set it, otherwise the connection's
// remote address with the port stripped.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
