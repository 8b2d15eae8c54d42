package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/modelconfig"
)

func (a *API) listModelConfigs(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	list, err := a.models.List(r.Context(), rc.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model_configs": list})
}

func (a *API) createModelConfig(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	var in modelconfig.CreateInput
	if err := decodeJSON(r, &in, "model_config_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := a.models.Create(r.Context(), rc.WorkspaceID, rc.Identity.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "modelconfig.create", map[string]any{
		"workspace_id":    rc.WorkspaceID,
		"model_config_id": cfg.ID,
		"provider":        cfg.Provider,
		"secret_ref":      cfg.SecretRef,
	})
	writeJSON(w, http.StatusOK, map[string]any{"model_config": cfg})
}

func (a *API) updateModelConfig(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	id := strings.TrimSpace(mux.Vars(r)["model_config_id"])
	var in modelconfig.UpdateInput
	if err := decodeJSON(r, &in, "model_config_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := a.models.Update(r.Context(), rc.WorkspaceID, id, rc.Identity.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "modelconfig.update", map[string]any{
		"workspace_id":    rc.WorkspaceID,
		"model_config_id": cfg.ID,
		"secret_rotated":  in.APIKey != nil,
	})
	writeJSON(w, http.StatusOK, map[string]any{"model_config": cfg})
}

func (a *API) deleteModelConfig(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	id := strings.TrimSpace(mux.Vars(r)["model_config_id"])
	if err := a.models.Delete(r.Context(), rc.WorkspaceID, id); err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "modelconfig.delete", map[string]any{
		"workspace_id":    rc.WorkspaceID,
		"model_config_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
