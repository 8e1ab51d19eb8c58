package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/decodestudio/decodeauth/internal/auth"
)

type adminCreateRequest struct {
	registerRequest
	Role string `json:"role"`
}

type adminUpdateRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=100"`
	Email *string `json:"email" validate:"omitempty,email"`
	Role  *string `json:"role"`
}

// HandleListUsers lists all identities
// GET /api/admin/users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.DB.ListUsers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, u.view())
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"users": views})
}

// HandleCreateUser creates an identity with an explicit role
// POST /api/admin/user
func (a *App) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req adminCreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.createIdentity(r.Context(), req.registerRequest, role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor, _ := UserFromContext(r.Context())
	a.Logger.InfoContext(r.Context(), "user created by admin", "user_id", u.ID, "role", u.Role, "admin_id", actor.ID)
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"user":    u.view(),
	})
}

// HandleUpdateUser changes name, email or role
// PUT /api/admin/user/{id}
func (a *App) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req adminUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var upd UserUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			a.fail(w, r, &auth.ValidationError{Field: "name", Message: "name is required"})
			return
		}
		req.Name, upd.Name = &name, &name
	}
	if req.Email != nil {
		email := auth.NormalizeEmail(*req.Email)
		req.Email, upd.Email = &email, &email
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		upd.Role = &role
	}
	if err := a.validateStruct(req); err != nil {
		a.fail(w, r, err)
		return
	}

	u, err := a.DB.UpdateUser(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor, _ := UserFromContext(r.Context())
	a.Logger.InfoContext(r.Context(), "user updated by admin", "user_id", u.ID, "role", u.Role, "admin_id", actor.ID)
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "User updated successfully",
		"user":    u.view(),
	})
}

// HandleDeleteUser removes an identity. Tokens already issued to it are
// rejected by the gate from then on.
// DELETE /api/admin/user/{id}
func (a *App) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor, _ := UserFromContext(r.Context())
	if actor.ID == id {
		a.fail(w, r, &auth.ValidationError{Message: "admins cannot delete their own account"})
		return
	}
	if err := a.DB.DeleteUser(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.InfoContext(r.Context(), "user deleted by admin", "user_id", id, "admin_id", actor.ID)
	writeSuccess(w, http.StatusOK, map[string]interface{}{"message": "User deleted successfully"})
}

// EnsureAdmin creates the bootstrap admin when no identity holds email yet.
// It reports whether a new identity was created.
func (a *App) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	_, err := a.createIdentity(ctx, registerRequest{Name: name, Email: email, Password: password}, auth.RoleAdmin)
	if errors.Is(err, auth.ErrDuplicateIdentity) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
