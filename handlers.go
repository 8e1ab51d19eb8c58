package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/decodestudio/decodeauth/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &auth.ValidationError{Message: "Invalid request body"}
	}
	return nil
}

// createIdentity validates and hashes before touching storage. Duplicate
// emails surface from the storage constraint as auth.ErrDuplicateIdentity.
func (a *App) createIdentity(ctx context.Context, req registerRequest, role auth.Role) (*User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = auth.NormalizeEmail(req.Email)
	if err := a.validateStruct(req); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &auth.ValidationError{Field: "role", Message: "role must be one of user, admin"}
	}
	hashed, err := a.Hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{Name: req.Name, Email: req.Email, PasswordHash: hashed, Role: role}
	if err := a.DB.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (a *App) setTokenCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(a.Config.CookieLifetime),
		HttpOnly: true,
		Secure:   r.TLS != nil || a.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession issues a token for u and writes the {success, token, user} body.
func (a *App) startSession(w http.ResponseWriter, r *http.Request, status int, u *User) {
	token, _, err := a.Tokens.Issue(u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.setTokenCookie(w, r, token)
	writeSuccess(w, status, map[string]interface{}{
		"token": token,
		"user":  u.view(),
	})
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.createIdentity(r.Context(), req, auth.RoleUser)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateIdentity) {
			a.Logger.InfoContext(r.Context(), "registration rejected", "reason", "duplicate_email")
		}
		a.fail(w, r, err)
		return
	}
	a.Logger.InfoContext(r.Context(), "user registered", "user_id", u.ID)
	a.startSession(w, r, http.StatusCreated, u)
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.validateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "please enter email and password")
		return
	}
	u, err := a.DB.GetUserByEmail(r.Context(), auth.NormalizeEmail(req.Email))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	secret := a.dummyHash
	if u != nil {
		secret = u.PasswordHash
	}
	if !a.Hasher.Verify(req.Password, secret) || u == nil {
		a.Logger.WarnContext(r.Context(), "login failed", "reason", "invalid_credentials", "ip", clientIP(r))
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}
	a.Logger.InfoContext(r.Context(), "user logged in", "user_id", u.ID)
	a.startSession(w, r, http.StatusOK, u)
}

// HandleLogout clears the cookie. The token itself stays valid until it
// expires; there is no server-side revocation.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil || a.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	writeSuccess(w, http.StatusOK, map[string]interface{}{"message": "Logged out successfully"})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	writeSuccess(w, http.StatusOK, map[string]interface{}{"user": u.view()})
}
