package httpapi

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"goyais.org/hub/internal/gateway"
)

// streamRunEvents relays the runtime's Server-Sent Events for one run. The
// binding is verified before the first byte is written; afterwards the
// upstream body is copied through unchanged until either side hangs up.
func (a *API) streamRunEvents(w http.ResponseWriter, r *http.Request, rc RequestContext) {
	target, err := a.gateway.Resolve(r.Context(), rc.WorkspaceID, rc.TraceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runID := mux.Vars(r)["run_id"]
	err = a.gateway.Stream(r.Context(), w, target, gateway.ForwardRequest{
		Method:  http.MethodGet,
		Path:    withQuery("/v1/runs/"+url.PathEscape(runID)+"/events", r.URL.Query()),
		UserID:  rc.Identity.UserID,
		TraceID: rc.TraceID,
	}, "GET /v1/runs/{run_id}/events")
	if err != nil {
		writeError(w, r, err)
	}
}
