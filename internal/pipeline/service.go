package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/dedup"
	"github.com/linnemanlabs/capetl/internal/extract"
)

var tracer = otel.Tracer("github.com/linnemanlabs/capetl/internal/pipeline")

// Kind selects the alert or notification flavour of a step.
type Kind string

const (
	KindAlerts        Kind = "alerts"
	KindNotifications Kind = "notifications"
)

// Archive entry names.
const (
	alertsEntry       = "alerts.xml"
	notificationEntry = "beacon_dump"
)

// ErrFeedNotConfigured is returned by FetchFeed when no feed source is set.
var ErrFeedNotConfigured = errors.New("feed source not configured")

// Feed supplies raw alert feed documents.
type Feed interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Notifier is told about every feed ingest that retained new alerts.
type Notifier interface {
	NotifyIngest(ctx context.Context, s *IngestSummary) error
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithFeed sets the source used by FetchFeed.
func WithFeed(f Feed) Option { return func(s *Service) { s.feed = f } }

// WithNotifier sets the notifier called after a feed ingest.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics records step metrics on m.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the time source used for raw archive keys.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service is the business boundary for pipeline steps. Each call is one
// sequential run; concurrent calls are independent.
type Service struct {
	bucket string
	policy extract.Policy
	store  blob.Store
	dedup  *dedup.Deduplicator
	logger log.Logger

	feed     Feed
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a pipeline service. cfg must have been validated.
func NewService(cfg Config, store blob.Store, ledger dedup.Ledger, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		bucket: cfg.Bucket,
		policy: cfg.Policy(),
		store:  store,
		dedup:  dedup.New(ledger),
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// run is the common prologue of every step: a run id, a scoped logger, a
// span, and a deferred metrics/span epilogue driven by *errp.
func (s *Service) run(ctx context.Context, step string, kind Kind, errp *error) (context.Context, string, log.Logger, func()) {
	runID := ulid.Make().String()
	L := s.logger.With("run_id", runID, "step", step, "kind", string(kind))
	ctx, span := tracer.Start(ctx, "pipeline."+step, trace.WithAttributes(
		attribute.String("capetl.run_id", runID),
		attribute.String("capetl.kind", string(kind)),
	))
	start := time.Now()

	return ctx, runID, L, func() {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.observeRun(step, start, err)
	}
}

// LoadResult is the outcome of a load step.
type LoadResult struct {
	RunID  string `json:"run_id"`
	Target string `json:"target,omitempty"`
}

// Load copies a staged file (a key inside the service bucket) into the
// snowpipe directory of its kind. An empty key is a no-op.
func (s *Service) Load(ctx context.Context, kind Kind, csvFile string) (_ *LoadResult, err error) {
	ctx, runID, L, done := s.run(ctx, "load", kind, &err)
	defer done()

	res := &LoadResult{RunID: runID}
	if csvFile == "" {
		L.Info(ctx, "no new file to process")
		return res, nil
	}

	prefix, err := stagePrefix(kind)
	if err != nil {
		return nil, err
	}
	src := blob.Locator{Container: s.bucket, Path: strings.TrimPrefix(csvFile, "/")}
	dst := src.In(blob.SnowpipeKey(prefix, csvFile))

	if err := s.store.Copy(ctx, src, dst); err != nil {
		L.Error(ctx, err, "load copy failed", "src", src.String())
		return nil, err
	}
	L.Info(ctx, "loaded staged file", "src", src.String(), "dst", dst.String())
	res.Target = dst.String()
	return res, nil
}

// BackfillResult lists the archives staged by a backfill and those that
// failed. An archive that staged partially before an error is only in
// Failed.
type BackfillResult struct {
	RunID  string            `json:"run_id"`
	Staged []string          `json:"staged"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Backfill stages every archive under prefix (a key prefix inside the
// service bucket), continuing past failures.
func (s *Service) Backfill(ctx context.Context, kind Kind, prefix string) (_ *BackfillResult, err error) {
	ctx, runID, L, done := s.run(ctx, "backfill", kind, &err)
	defer done()

	stage, err := s.stager(kind)
	if err != nil {
		return nil, err
	}

	locs, err := s.store.List(ctx, blob.Locator{Container: s.bucket, Path: strings.TrimPrefix(prefix, "/")})
	if err != nil {
		L.Error(ctx, err, "backfill list failed", "prefix", prefix)
		return nil, err
	}

	res := &BackfillResult{RunID: runID, Staged: []string{}}
	for _, loc := range locs {
		if path.Ext(loc.Path) != ".zip" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr, err := stage(ctx, loc.String())
		if err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[loc.String()] = err.Error()
			L.Warn(ctx, "backfill stage failed", "file", loc.String(), "error", err.Error())
			continue
		}
		res.Staged = append(res.Staged, sr.CsvFile)
	}

	L.Info(ctx, "backfill complete",
		"prefix", prefix,
		"archives", len(res.Staged)+len(res.Failed),
		"failed", len(res.Failed),
	)
	return res, nil
}

func (s *Service) stager(kind Kind) (func(context.Context, string) (*StageResult, error), error) {
	switch kind {
	case KindAlerts:
		return s.StageAlerts, nil
	case KindNotifications:
		return s.StageNotifications, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func stagePrefix(kind Kind) (string, error) {
	switch kind {
	case KindAlerts:
		return blob.StageAlerts, nil
	case KindNotifications:
		return blob.StageNotifications, nil
	default:
		return "", fmt.Errorf("unknown kind %q", kind)
	}
}
