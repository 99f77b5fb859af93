package pipelineapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
)

func (a *API) handleFetchFeed(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.FetchFeed(r.Context())
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	annotate(r, res.RunID, attribute.Int("capetl.alerts.retained", len(res.Retained)))
	writeJSON(w, http.StatusOK, res)
}

// handleIngestFeed takes a raw CAP feed document as the request body.
func (a *API) handleIngestFeed(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		a.writeBodyError(w, r, err)
		return
	}

	res, err := a.svc.IngestFeed(r.Context(), raw)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	annotate(r, res.RunID, attribute.Int("capetl.alerts.retained", len(res.Retained)))
	writeJSON(w, http.StatusOK, res)
}
