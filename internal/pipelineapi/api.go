// Package pipelineapi exposes the pipeline steps as HTTP triggers.
package pipelineapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/capetl/internal/archive"
	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/cap"
	"github.com/linnemanlabs/capetl/internal/dedup"
	"github.com/linnemanlabs/capetl/internal/ipaws"
	"github.com/linnemanlabs/capetl/internal/pipeline"
)

// PipelineService defines the pipeline operations the API triggers.
type PipelineService interface {
	FetchFeed(ctx context.Context) (*pipeline.FeedResult, error)
	IngestFeed(ctx context.Context, raw []byte) (*pipeline.FeedResult, error)
	StageAlerts(ctx context.Context, fileName string) (*pipeline.StageResult, error)
	IngestNotification(ctx context.Context, msg []byte) (*pipeline.NotificationResult, error)
	StageNotifications(ctx context.Context, fileName string) (*pipeline.StageResult, error)
	Load(ctx context.Context, kind pipeline.Kind, csvFile string) (*pipeline.LoadResult, error)
	Backfill(ctx context.Context, kind pipeline.Kind, prefix string) (*pipeline.BackfillResult, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PipelineService
	auth   func(http.Handler) http.Handler
}

// New creates a new API handler. auth wraps every /api/v1 route when non-nil.
func New(logger log.Logger, svc PipelineService, auth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		auth:   auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth)
		}
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/fetch", a.handleFetchFeed)
			r.Post("/feed", a.handleIngestFeed)
			r.Post("/stage", a.handleStage(pipeline.KindAlerts))
			r.Post("/load", a.handleLoad(pipeline.KindAlerts))
			r.Post("/backfill", a.handleBackfill(pipeline.KindAlerts))
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", a.handleIngestNotification)
			r.Post("/stage", a.handleStage(pipeline.KindNotifications))
			r.Post("/load", a.handleLoad(pipeline.KindNotifications))
			r.Post("/backfill", a.handleBackfill(pipeline.KindNotifications))
		})
	})
}

// fileRequest is the body of stage calls. The output of an ingest call
// ({"FileName": ...}) is accepted as is.
type fileRequest struct {
	FileName     string `json:"file_name"`
	PrevFileName string `json:"FileName"`
}

func (f fileRequest) name() string {
	if f.FileName != "" {
		return f.FileName
	}
	return f.PrevFileName
}

// loadRequest is the body of load calls; the output of a stage call
// ({"CsvFile": ...}) is accepted as is.
type loadRequest struct {
	CsvFile     string `json:"csv_file"`
	PrevCsvFile string `json:"CsvFile"`
}

func (l loadRequest) name() string {
	if l.CsvFile != "" {
		return l.CsvFile
	}
	return l.PrevCsvFile
}

type backfillRequest struct {
	Prefix string `json:"prefix"`
}

// errorResponse carries the partial step result when one exists.
type errorResponse struct {
	Error  string `json:"error"`
	Result any    `json:"result,omitempty"`
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// writeBodyError answers a request whose body could not be read or decoded.
func (a *API) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	msg := "invalid payload"
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		status = http.StatusRequestEntityTooLarge
		msg = "payload too large"
	}
	a.logger.Warn(r.Context(), "rejected request body", "path", r.URL.Path, "error", err.Error())
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps a pipeline error to a status and logs it. partial is the
// step result returned alongside the error, if any.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, partial any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "pipeline step failed", "path", r.URL.Path, "status", status)
	} else {
		a.logger.Warn(r.Context(), "pipeline step rejected", "path", r.URL.Path, "status", status, "error", err.Error())
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Result: partial})
}

func statusFor(err error) int {
	var (
		malformed   *cap.MalformedDocumentError
		missing     *cap.MissingRequiredFieldError
		corrupt     *archive.CorruptArchiveError
		ledgerDown  *dedup.LedgerUnavailableError
		storeDown   *blob.StoreUnavailableError
		feedStatus  *ipaws.StatusError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &malformed), errors.As(err, &missing), errors.As(err, &corrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, blob.ErrInvalidLocator):
		return http.StatusBadRequest
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ledgerDown), errors.As(err, &storeDown), errors.Is(err, pipeline.ErrFeedNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &feedStatus):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func annotate(r *http.Request, runID string, kv ...attribute.KeyValue) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("capetl.run_id", runID))
	span.SetAttributes(kv...)
}
