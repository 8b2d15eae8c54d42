package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/workspace"
)

// membershipOnly marks routes that need an active membership and nothing else.
const membershipOnly = ""

// routePermissions maps "METHOD template" of every workspace-scoped route to
// the permission it requires. A scoped route missing here is refused.
var routePermissions = map[string]string{
	"GET /v1/me/navigation": membershipOnly,

	"GET /v1/model-configs":                      workspace.PermModelConfigRead,
	"POST /v1/model-configs":                     workspace.PermModelConfigManage,
	"PUT /v1/model-configs/{model_config_id}":    workspace.PermModelConfigManage,
	"DELETE /v1/model-configs/{model_config_id}": workspace.PermModelConfigManage,

	"POST /v1/admin/workspaces/{workspace_id}/runtime":                    workspace.PermWorkspaceManage,
	"GET /v1/admin/workspaces/{workspace_id}/roles":                       workspace.PermWorkspaceManage,
	"PUT /v1/admin/workspaces/{workspace_id}/roles/{role_id}/permissions": workspace.PermWorkspaceManage,

	"GET /v1/runtime/health":                                 workspace.PermWorkspaceRead,
	"GET /v1/runtime/version":                                workspace.PermWorkspaceRead,
	"GET /v1/runtime/sessions":                               workspace.PermRunRead,
	"POST /v1/runtime/sessions":                              workspace.PermRunCreate,
	"PATCH /v1/runtime/sessions/{session_id}":                workspace.PermRunCreate,
	"GET /v1/runtime/runs":                                   workspace.PermRunRead,
	"POST /v1/runtime/runs":                                  workspace.PermRunCreate,
	"GET /v1/runtime/runs/{run_id}/events":                   workspace.PermRunRead,
	"GET /v1/runtime/runs/{run_id}/events/replay":            workspace.PermRunRead,
	"POST /v1/runtime/tool-confirmations":                    workspace.PermConfirmWrite,
	"GET /v1/runtime/model-configs/{model_config_id}/models": workspace.PermModelConfigRead,
}

// RequestContext is the verified caller of a workspace-scoped request.
type RequestContext struct {
	TraceID     string
	Identity    auth.Identity
	WorkspaceID string
	Membership  workspace.Membership
	Permission  string
	Route       string
}

type scopedHandler func(w http.ResponseWriter, r *http.Request, rc RequestContext)

// scoped authenticates the caller, resolves the workspace from the
// {workspace_id} path variable or the workspace_id query parameter, and
// checks membership and the route's permission before calling h.
func (a *API) scoped(h scopedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r)
		perm, ok := routePermissions[r.Method+" "+route]
		if !ok {
			writeError(w, r, apierr.New(apierr.CodeInternal, "Route has no permission mapping.",
				apierr.WithCause("route_permission_missing"),
				apierr.WithDetails(map[string]any{"route": r.Method + " " + route})))
			return
		}

		id, err := a.authenticate(r, true)
		if err != nil {
			writeError(w, r, err)
			return
		}
		r = withIdentity(r, id)

		wsID := strings.TrimSpace(mux.Vars(r)["workspace_id"])
		if wsID == "" {
			wsID = strings.TrimSpace(r.URL.Query().Get("workspace_id"))
		}
		if wsID == "" {
			writeError(w, r, apierr.Validation("workspace_id query parameter is required.", "workspace_id_query", nil))
			return
		}

		m, err := a.gate.RequireMember(r.Context(), id.UserID, wsID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if perm != membershipOnly {
			if err := a.gate.RequirePermission(r.Context(), m, perm); err != nil {
				writeError(w, r, err)
				return
			}
		}

		h(w, r, RequestContext{
			TraceID:     traceID(r),
			Identity:    id,
			WorkspaceID: wsID,
			Membership:  m,
			Permission:  perm,
			Route:       route,
		})
	})
}
