package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/audit"
)

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type registerRuntimeRequest struct {
	RuntimeBaseURL string `json:"runtime_base_url"`
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	roles, err := a.gate.ListRoles(r.Context(), rc.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	roleID := strings.TrimSpace(mux.Vars(r)["role_id"])
	var req updateRolePermissionsRequest
	if err := decodeJSON(r, &req, "role_permissions_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Permissions == nil {
		writeError(w, r, apierr.Validation("permissions is required.", "role_permissions_payload", nil))
		return
	}
	perms, err := a.gate.SetRolePermissions(r.Context(), rc.WorkspaceID, roleID, req.Permissions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"workspace_id": rc.WorkspaceID,
		"role_id":      roleID,
		"permissions":  perms,
	})
	writeJSON(w, http.StatusOK, map[string]any{"role_id": roleID, "permissions": perms})
}

func (a *API) registerRuntime(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	var req registerRuntimeRequest
	if err := decodeJSON(r, &req, "runtime_registry_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	rt, err := a.gateway.Register(r.Context(), rc.WorkspaceID, req.RuntimeBaseURL, rc.TraceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "runtime.register", map[string]any{
		"workspace_id":     rc.WorkspaceID,
		"runtime_base_url": rt.BaseURL,
		"runtime_status":   string(rt.Status),
	})
	writeJSON(w, http.StatusOK, rt)
}
