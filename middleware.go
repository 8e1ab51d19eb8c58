package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/decodestudio/decodeauth/internal/auth"
)

const tokenCookie = "token"

type userContextKey struct{}

func withUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the identity attached by Authenticate.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*User)
	return u, ok && u != nil
}

// tokenFromRequest prefers a non-empty "token" cookie and falls back to an
// Authorization: Bearer header.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookie); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// authenticate runs the gate up to the Authenticated state: extract, verify,
// then resolve the subject. The lookup only happens after the token verified.
func (a *App) authenticate(r *http.Request) (*User, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return nil, auth.ErrNoCredential
	}
	sub, err := a.Tokens.Verify(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredential, err)
	}
	u, err := a.DB.GetUserByID(r.Context(), sub)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup identity %s: %w", auth.ErrStorageFault, sub, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredential, auth.ErrIdentitySubjectMissing)
	}
	return u, nil
}

// authorize is the RoleCheck transition for an authenticated identity.
func authorize(u *User, allowed []auth.Role) error {
	if !u.Role.In(allowed...) {
		return &auth.ForbiddenError{Role: u.Role, Required: allowed}
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoCredential):
		return "no_credential"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrIdentitySubjectMissing):
		return "identity_missing"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredential):
		return "invalid_token"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	}
	return "storage_fault"
}

// reject logs the gate decision and writes the client response. Storage
// faults are logged by fail at error level.
func (a *App) reject(w http.ResponseWriter, r *http.Request, err error) {
	if reason := rejectionReason(err); reason != "storage_fault" {
		attrs := []any{"reason", reason, "method", r.Method, "path", r.URL.Path, "error", err}
		var fe *auth.ForbiddenError
		if errors.As(err, &fe) {
			attrs = append(attrs, "role", fe.Role, "required", fe.Required)
		}
		a.Logger.WarnContext(r.Context(), "request rejected", attrs...)
	}
	a.fail(w, r, err)
}

// Authenticate guards handlers that need a logged-in identity.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

// RequireRoles must run after Authenticate. A request that somehow reaches it
// without an identity is rejected.
func (a *App) RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				a.reject(w, r, auth.ErrNoCredential)
				return
			}
			if err := authorize(u, roles); err != nil {
				a.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS middleware echoes explicitly allowed origins with credentials. A "*"
// entry opens the API to any origin without credentials; an empty list
// allows no cross-origin reads.
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Add("Vary", "Origin")
			switch corsPolicy(a.Config.AllowedOrigins, origin) {
			case corsCredentialed:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			case corsPublic:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type corsMode int

const (
	corsDenied corsMode = iota
	corsPublic
	corsCredentialed
)

func corsPolicy(allowed []string, origin string) corsMode {
	mode := corsDenied
	for _, o := range allowed {
		if o == origin {
			return corsCredentialed
		}
		if o == "*" {
			mode = corsPublic
		}
	}
	return mode
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		a.Logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
