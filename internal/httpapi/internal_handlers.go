package httpapi

import (
	"net/http"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/gateway"
)

type resolveSecretRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SecretRef   string `json:"secret_ref"`
}

// resolveSecret is the only route that returns secret plaintext. It trusts
// the runtime shared secret, not a user bearer.
func (a *API) resolveSecret(w http.ResponseWriter, r *http.Request) {
	if !a.gateway.SharedSecretMatches(r.Header.Get(gateway.HeaderHubAuth)) {
		writeError(w, r, apierr.New(apierr.CodeUnauthorized, "Unauthorized.", apierr.WithCause("internal_secret_auth")))
		return
	}
	var req resolveSecretRequest
	if err := decodeJSON(r, &req, "internal_secret_payload"); err != nil {
		writeError(w, r, err)
		return
	}
	value, err := a.secrets.Resolve(r.Context(), req.WorkspaceID, req.SecretRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "secret.resolve", map[string]any{
		"workspace_id": req.WorkspaceID,
		"secret_ref":   req.SecretRef,
	})
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}
