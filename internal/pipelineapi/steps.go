package pipelineapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/capetl/internal/pipeline"
)

// handleStage stages one raw archive. A field error under the abort policy
// still stages the rows before it; the partial result rides on the 422.
func (a *API) handleStage(kind pipeline.Kind) http.HandlerFunc {
	stage := a.svc.StageAlerts
	if kind == pipeline.KindNotifications {
		stage = a.svc.StageNotifications
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req fileRequest
		if err := decode(r, &req); err != nil {
			a.writeBodyError(w, r, err)
			return
		}

		res, err := stage(r.Context(), req.name())
		if err != nil {
			var partial any
			if res != nil {
				partial = res
			}
			a.writeError(w, r, err, partial)
			return
		}
		annotate(r, res.RunID, attribute.Int("capetl.rows", res.Rows))
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleLoad(kind pipeline.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := decode(r, &req); err != nil {
			a.writeBodyError(w, r, err)
			return
		}

		res, err := a.svc.Load(r.Context(), kind, req.name())
		if err != nil {
			a.writeError(w, r, err, nil)
			return
		}
		annotate(r, res.RunID)
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleBackfill(kind pipeline.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backfillRequest
		if err := decode(r, &req); err != nil {
			a.writeBodyError(w, r, err)
			return
		}

		res, err := a.svc.Backfill(r.Context(), kind, req.Prefix)
		if err != nil {
			var partial any
			if res != nil {
				partial = res
			}
			a.writeError(w, r, err, partial)
			return
		}
		annotate(r, res.RunID,
			attribute.Int("capetl.backfill.staged", len(res.Staged)),
			attribute.Int("capetl.backfill.failed", len(res.Failed)),
		)
		writeJSON(w, http.StatusOK, res)
	}
}
