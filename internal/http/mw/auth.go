// Package mw contains HTTP middleware for the fortress-api.
package mw

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fortresshq/fortress-api/internal/constants"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// CallerKey is the context key for the resolved caller identity.
	CallerKey ContextKey = "caller"

	// SessionHeader carries the anonymous session token. The cookie is the
	// browser fallback.
	SessionHeader = "X-Session-Token"
	SessionCookie = "fortress_session"
)

// Caller is the resolved identity of a request: an authenticated user with a
// plan, or an anonymous session.
type Caller struct {
	UserID       string
	Plan         string
	SessionToken string
}

// IsAnonymous reports whether the caller has no authenticated user.
func (c *Caller) IsAnonymous() bool {
	return c == nil || c.UserID == ""
}

// Tier returns the caller's normalized tier. Anonymous callers map to free.
func (c *Caller) Tier() string {
	if c.IsAnonymous() {
		return constants.TierFree
	}
	return constants.NormalizeTierName(c.Plan)
}

// Auth returns middleware that resolves the caller from a bearer JWT when
// present, or from the anonymous session token otherwise. Requests carrying
// an invalid JWT are refused; requests with no credentials at all pass
// through anonymously so preview audits work.
func Auth(jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				caller := &Caller{SessionToken: sessionToken(r)}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			caller, err := validateToken(jwtSecret, token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

// RequireUser returns middleware that refuses anonymous requests. Applied to
// endpoints that only make sense with an account, like issue management.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetCaller(r.Context()).IsAnonymous() {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validateToken(secret []byte, tokenString string) (*Caller, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	plan, _ := claims["plan"].(string)
	return &Caller{UserID: sub, Plan: plan}, nil
}

func sessionToken(r *http.Request) string {
	if token := r.Header.Get(SessionHeader); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func withCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller retrieves the caller from context, nil when the auth middleware
// did not run.
func GetCaller(ctx context.Context) *Caller {
	caller, ok := ctx.Value(CallerKey).(*Caller)
	if !ok {
		return nil
	}
	return caller
}
