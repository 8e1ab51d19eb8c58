package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/decodestudio/decodeauth/internal/auth"
	"github.com/decodestudio/decodeauth/internal/config"
)

const readyTimeout = 2 * time.Second

type App struct {
	DB      DB
	Config  *config.Config
	Hasher  *auth.Hasher
	Tokens  *auth.Tokens
	Logger  *slog.Logger
	Limiter RateLimiter

	validate *validator.Validate
	// bcrypt secret compared against when a login email is unknown, so both
	// failure paths do the same work
	dummyHash string
}

// NewApp wires the auth core from cfg. Secrets and lifetimes come only from
// cfg; nothing is read from the environment here.
func NewApp(cfg *config.Config, db DB, limiter RateLimiter, logger *slog.Logger) (*App, error) {
	settings := auth.Settings{
		Secret:        []byte(cfg.JwtSecret),
		TokenLifetime: cfg.TokenLifetime,
		HashCost:      cfg.BcryptCost,
	}
	tokens, err := auth.NewTokens(settings)
	if err != nil {
		return nil, err
	}
	a := &App{
		DB:       db,
		Config:   cfg,
		Hasher:   auth.NewHasher(settings.HashCost),
		Tokens:   tokens,
		Logger:   logger,
		Limiter:  limiter,
		validate: newValidator(),
	}
	dummy, err := a.Hasher.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	a.dummyHash = dummy
	return a, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct converts the first validator failure into an auth.ValidationError.
func (a *App) validateStruct(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", auth.ErrValidation, err)
	}
	fe := verrs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = "please enter valid email address"
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		msg = field + " is invalid"
	}
	return &auth.ValidationError{Field: field, Message: msg}
}

// Router builds the HTTP surface. Every route under /api/admin passes the
// gate and the admin role check before any handler runs.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)

	authRoutes := r.PathPrefix("/api/auth").Subrouter()
	authRoutes.Handle("/register", a.RateLimit(http.HandlerFunc(a.HandleRegister))).Methods(http.MethodPost)
	authRoutes.Handle("/login", a.RateLimit(http.HandlerFunc(a.HandleLogin))).Methods(http.MethodPost)
	authRoutes.HandleFunc("/logout", a.HandleLogout).Methods(http.MethodGet, http.MethodPost)
	authRoutes.Handle("/me", a.Authenticate(http.HandlerFunc(a.HandleMe))).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(a.Authenticate)
	admin.Use(a.RequireRoles(auth.RoleAdmin))
	admin.HandleFunc("/users", a.HandleListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/user", a.HandleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/user/{id}", a.HandleUpdateUser).Methods(http.MethodPut)
	admin.HandleFunc("/user/{id}", a.HandleDeleteUser).Methods(http.MethodDelete)

	// CORS preflight for any path
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := a.DB.Ping(ctx); err != nil {
		a.Logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
