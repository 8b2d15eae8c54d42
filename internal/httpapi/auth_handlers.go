package httpapi

import (
	"net/http"
	"time"

	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/workspace"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.UserView `json:"user"`
}

type meResponse struct {
	User        auth.UserView              `json:"user"`
	Memberships []workspace.MembershipView `json:"memberships"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, "login_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{
			"email": auth.NormalizeEmail(req.Email),
		})
		writeError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: res.User.ID, Email: res.User.Email})
	_ = audit.LogEvent(ctx, "auth.login", nil)

	view := res.User.View()
	view.Status = ""
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: view})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, err := a.authenticate(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberships, err := a.gate.Memberships(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:        auth.UserView{UserID: id.UserID, Email: id.Email, DisplayName: id.DisplayName},
		Memberships: memberships,
	})
}

func (a *API) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	id, err := a.authenticate(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberships, err := a.gate.Memberships(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": memberships})
}

func (a *API) navigation(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	nav, err := a.gate.Navigation(r.Context(), rc.Membership)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (a *API) bootstrapStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.bootstrap.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) bootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var in workspace.AdminInput
	if err := decodeJSON(r, &in, "bootstrap_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.bootstrap.CreateAdmin(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: res.User.UserID, Email: res.User.Email})
	_ = audit.LogEvent(ctx, "auth.bootstrap_admin", map[string]any{
		"workspace_id": res.Workspace.ID,
	})
	writeJSON(w, http.StatusOK, res)
}
