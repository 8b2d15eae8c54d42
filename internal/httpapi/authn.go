package httpapi

import (
	"net/http"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/auth"
)

const authHeader = "Authorization"

// authenticate resolves the bearer token of r. Workspace routes collapse every
// authentication failure into UNAUTHORIZED and keep the precise reason in the
// details; /v1/me reports the AUTH_* code directly.
func (a *API) authenticate(r *http.Request, domain bool) (auth.Identity, error) {
	id, err := a.auth.Authenticate(r.Context(), r.Header.Get(authHeader))
	if err == nil {
		return id, nil
	}
	if !domain {
		return auth.Identity{}, err
	}
	e := apierr.From(err)
	if e.Status() != http.StatusUnauthorized {
		return auth.Identity{}, err
	}
	return auth.Identity{}, apierr.New(apierr.CodeUnauthorized, "Authentication is required.",
		apierr.WithCause("domain_auth"),
		apierr.WithDetails(map[string]any{"auth_code": string(e.Code), "auth_cause": e.Cause}))
}

// withIdentity attaches id to the request context for audit logging.
func withIdentity(r *http.Request, id auth.Identity) *http.Request {
	return r.WithContext(auth.ContextWithIdentity(r.Context(), id))
}
