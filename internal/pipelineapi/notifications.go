package pipelineapi

import "net/http"

// handleIngestNotification takes one raw notification message as the
// request body.
func (a *API) handleIngestNotification(w http.ResponseWriter, r *http.Request) {
	msg, err := readBody(r)
	if err != nil {
		a.writeBodyError(w, r, err)
		return
	}

	res, err := a.svc.IngestNotification(r.Context(), msg)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	annotate(r, res.RunID)
	writeJSON(w, http.StatusOK, res)
}
