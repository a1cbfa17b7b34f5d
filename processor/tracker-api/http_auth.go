package trackerapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/tracker"
)

// LoginHTTPRequest is the body of POST /auth/login.
type LoginHTTPRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHTTPResponse returns the session token for API clients; browsers
// use the cookie set alongside it.
type LoginHTTPResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *tracker.User `json:"user"`
}

// MeHTTPResponse describes the signed-in user and what they may do.
type MeHTTPResponse struct {
	User    *tracker.User `json:"user"`
	CanEdit bool          `json:"can_edit"`
	IsAdmin bool          `json:"is_admin"`
}

// PreferencesHTTPRequest is the body of PUT /auth/preferences.
type PreferencesHTTPRequest struct {
	Name  *string        `json:"name,omitempty"`
	Theme *tracker.Theme `json:"theme,omitempty"`
}

// ChangePasswordHTTPRequest is the body of PUT /auth/password.
type ChangePasswordHTTPRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (c *Component) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}

	login, err := c.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	auth.SetSessionCookie(w, c.config.SessionCookie, login.Token, login.ExpiresAt, c.config.SecureCookie)
	writeJSON(w, http.StatusOK, LoginHTTPResponse{Token: login.Token, ExpiresAt: login.ExpiresAt, User: login.User})
}

func (c *Component) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := c.auth.Logout(r.Context(), auth.TokenFromRequest(r, c.config.SessionCookie)); err != nil {
		c.logger.Warn("Failed to delete session on logout", "error", err)
	}
	auth.ClearSessionCookie(w, c.config.SessionCookie, c.config.SecureCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (c *Component) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := c.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MeHTTPResponse{
		User:    user,
		CanEdit: auth.CanEdit(user),
		IsAdmin: auth.Can(user, auth.ActionManage, ""),
	})
}

// handlePreferences lets any signed-in user, guests included, change their
// own display name and theme.
func (c *Component) handlePreferences(w http.ResponseWriter, r *http.Request) {
	user, ok := c.currentUser(w, r)
	if !ok {
		return
	}
	var req PreferencesHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}

	updated := *user
	updated.PasswordHash = ""
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Theme != nil {
		updated.Theme = *req.Theme
	}
	if err := c.store.UpdateUser(r.Context(), &updated); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &updated)
}

func (c *Component) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := c.currentUser(w, r)
	if !ok {
		return
	}
	var req ChangePasswordHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		c.writeError(w, r, auth.ErrInvalidCredentials)
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	updated := *user
	updated.PasswordHash = hash
	if err := c.store.UpdateUser(r.Context(), &updated); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// Departments
// ----------------------------------------------------------------------------

// DepartmentHTTPRequest is the body for creating or updating a department.
type DepartmentHTTPRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (req DepartmentHTTPRequest) apply(d *tracker.Department) {
	if req.Name != nil {
		d.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
}

func (c *Component) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	depts, err := c.store.ListDepartments(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depts)
}

func (c *Component) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionManage, ""); !ok {
		return
	}
	var req DepartmentHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	var d tracker.Department
	req.apply(&d)
	if err := c.store.CreateDepartment(r.Context(), &d); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &d)
}

func (c *Component) handleGetDepartment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	d, err := c.store.GetDepartment(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c *Component) handleUpdateDepartment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionManage, ""); !ok {
		return
	}
	d, err := c.store.GetDepartment(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	var req DepartmentHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(d)
	if err := c.store.UpdateDepartment(r.Context(), d); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c *Component) handleDeleteDepartment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionManage, ""); !ok {
		return
	}
	if err := c.store.DeleteDepartment(r.Context(), r.PathValue("id")); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------------

// UserHTTPRequest is the body for creating or updating a user. Password is
// required on create and optional on update.
type UserHTTPRequest struct {
	Email        *string        `json:"email,omitempty"`
	Name         *string        `json:"name,omitempty"`
	Role         *tracker.Role  `json:"role,omitempty"`
	DepartmentID *string        `json:"department_id,omitempty"`
	Theme        *tracker.Theme `json:"theme,omitempty"`
	Password     string         `json:"password,omitempty"`
	SendWelcome  bool           `json:"send_welcome,omitempty"`
}

func (req UserHTTPRequest) apply(u *tracker.User) error {
	if req.Email != nil {
		u.Email = strings.TrimSpace(*req.Email)
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.DepartmentID != nil {
		u.DepartmentID = *req.DepartmentID
	}
	if req.Theme != nil {
		u.Theme = *req.Theme
	}
	u.PasswordHash = ""
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	return nil
}

func (c *Component) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	users, err := c.store.ListUsers(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (c *Component) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionManage, ""); !ok {
		return
	}
	var req UserHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	if req.Password == "" {
		c.writeError(w, r, auth.ErrWeakPassword)
		return
	}

	u := tracker.User{Role: tracker.RoleMember}
	if err := req.apply(&u); err != nil {
		c.writeError(w, r, err)
		return
	}
	if err := c.store.CreateUser(r.Context(), &u); err != nil {
		c.writeError(w, r, err)
		return
	}

	if req.SendWelcome && c.mailer != nil {
		if err := c.mailer.SendWelcome(&u); err != nil {
			c.logger.Warn("Failed to send welcome mail", "user_id", u.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, &u)
}

func (c *Component) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	u, err := c.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (c *Component) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := c.authorize(w, r, auth.ActionManage, "")
	if !ok {
		return
	}
	u, err := c.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	var req UserHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	if u.ID == admin.ID && req.Role != nil && *req.Role != tracker.RoleAdmin {
		c.writeError(w, r, badRequest("administrators cannot demote themselves"))
		return
	}
	if err := req.apply(u); err != nil {
		c.writeError(w, r, err)
		return
	}
	if err := c.store.UpdateUser(r.Context(), u); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (c *Component) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := c.authorize(w, r, auth.ActionManage, "")
	if !ok {
		return
	}
	id := r.PathValue("id")
	if id == admin.ID {
		c.writeError(w, r, badRequest("administrators cannot delete themselves"))
		return
	}
	if err := c.store.DeleteUser(r.Context(), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
