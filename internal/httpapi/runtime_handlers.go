package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/gateway"
)

const headerSecretRef = "X-Secret-Ref"

type toolConfirmationRequest struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	Approved *bool  `json:"approved"`
}

type toolConfirmationPayload struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	Approved bool   `json:"approved"`
}

// forward resolves the workspace runtime, sends one request and relays the
// decoded JSON answer.
func (a *API) forward(w http.ResponseWriter, r *http.Request, rc RequestContext, req gateway.ForwardRequest, route string) (any, bool) {
	target, err := a.gateway.Resolve(r.Context(), rc.WorkspaceID, rc.TraceID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	req.UserID = rc.Identity.UserID
	req.TraceID = rc.TraceID
	up, err := a.gateway.Forward(r.Context(), target, req)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	payload, err := up.JSON(rc.TraceID, route)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return payload, true
}

func (a *API) relay(w http.ResponseWriter, r *http.Request, rc RequestContext, req gateway.ForwardRequest, route string) {
	if payload, ok := a.forward(w, r, rc, req, route); ok {
		writeJSON(w, http.StatusOK, payload)
	}
}

func (a *API) runtimeHealth(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	target, err := a.gateway.Resolve(r.Context(), rc.WorkspaceID, rc.TraceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id":     rc.WorkspaceID,
		"runtime_base_url": target.BaseURL,
		"runtime_status":   string(gateway.StatusOnline),
		"upstream":         target.Health,
	})
}

func (a *API) runtimeVersion(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	a.relay(w, r, rc, gateway.ForwardRequest{Method: http.MethodGet, Path: "/v1/version"}, "GET /v1/version")
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	a.relay(w, r, rc, gateway.ForwardRequest{
		Method: http.MethodGet,
		Path:   withQuery("/v1/sessions", r.URL.Query()),
	}, "GET /v1/sessions")
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	payload, err := decodeOptionalJSON(r, "runtime_session_payload")
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.relay(w, r, rc, gateway.ForwardRequest{Method: http.MethodPost, Path: "/v1/sessions", Payload: payload},
		"POST /v1/sessions")
}

func (a *API) updateSession(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	payload, err := decodeOptionalJSON(r, "runtime_session_payload")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessionID := mux.Vars(r)["session_id"]
	a.relay(w, r, rc, gateway.ForwardRequest{
		Method:  http.MethodPatch,
		Path:    "/v1/sessions/" + url.PathEscape(sessionID),
		Payload: payload,
	}, "PATCH /v1/sessions/{session_id}")
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("session_id")) == "" {
		writeError(w, r, apierr.Validation("session_id query parameter is required.", "runtime_runs_query", nil))
		return
	}
	a.relay(w, r, rc, gateway.ForwardRequest{Method: http.MethodGet, Path: withQuery("/v1/runs", q)}, "GET /v1/runs")
}

func (a *API) createRun(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	payload, err := decodeOptionalJSON(r, "runtime_run_payload")
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, ok := a.forward(w, r, rc, gateway.ForwardRequest{Method: http.MethodPost, Path: "/v1/runs", Payload: payload},
		"POST /v1/runs")
	if !ok {
		return
	}
	fields := map[string]any{"workspace_id": rc.WorkspaceID}
	if m, isMap := result.(map[string]any); isMap {
		if runID, _ := m["run_id"].(string); runID != "" {
			fields["run_id"] = runID
		}
	}
	_ = audit.LogEvent(r.Context(), "runtime.run.create", fields)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) replayRunEvents(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	runID := mux.Vars(r)["run_id"]
	a.relay(w, r, rc, gateway.ForwardRequest{
		Method: http.MethodGet,
		Path:   withQuery("/v1/runs/"+url.PathEscape(runID)+"/events/replay", r.URL.Query()),
	}, "GET /v1/runs/{run_id}/events/replay")
}

func (a *API) confirmTool(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	var req toolConfirmationRequest
	if err := decodeJSON(r, &req, "runtime_confirmation_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	var issues []string
	if strings.TrimSpace(req.RunID) == "" {
		issues = append(issues, "run_id is required")
	}
	if strings.TrimSpace(req.CallID) == "" {
		issues = append(issues, "call_id is required")
	}
	if req.Approved == nil {
		issues = append(issues, "approved is required")
	}
	if len(issues) > 0 {
		writeError(w, r, apierr.Validation("Invalid tool confirmation payload.", "runtime_confirmation_payload",
			map[string]any{"issues": issues}))
		return
	}

	body := toolConfirmationPayload{RunID: req.RunID, CallID: req.CallID, Approved: *req.Approved}
	result, ok := a.forward(w, r, rc, gateway.ForwardRequest{
		Method:  http.MethodPost,
		Path:    "/v1/tool-confirmations",
		Payload: body,
	}, "POST /v1/tool-confirmations")
	if !ok {
		return
	}
	outcome := "denied"
	if body.Approved {
		outcome = "approved"
	}
	_ = audit.LogEvent(r.Context(), "runtime.tool_confirmation", map[string]any{
		"workspace_id": rc.WorkspaceID,
		"run_id":       body.RunID,
		"call_id":      body.CallID,
		"outcome":      outcome,
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) listModels(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	id := strings.TrimSpace(mux.Vars(r)["model_config_id"])
	cfg, err := a.models.Get(r.Context(), rc.WorkspaceID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.relay(w, r, rc, gateway.ForwardRequest{
		Method: http.MethodGet,
		Path:   "/v1/model-configs/" + url.PathEscape(cfg.ID) + "/models",
		Header: map[string]string{headerSecretRef: cfg.SecretRef},
	}, "GET /v1/model-configs/{model_config_id}/models")
}

// withQuery appends q to path without the hub-only workspace_id parameter.
func withQuery(path string, q url.Values) string {
	fwd := url.Values{}
	for k, v := range q {
		if k == "workspace_id" {
			continue
		}
		fwd[k] = v
	}
	if len(fwd) == 0 {
		return path
	}
	return path + "?" + fwd.Encode()
}
