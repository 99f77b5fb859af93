package pipelineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/capetl/internal/archive"
	"github.com/linnemanlabs/capetl/internal/authmw"
	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/blob/fsblob"
	"github.com/linnemanlabs/capetl/internal/cap"
	"github.com/linnemanlabs/capetl/internal/dedup"
	"github.com/linnemanlabs/capetl/internal/ipaws"
	"github.com/linnemanlabs/capetl/internal/ledger/memledger"
	"github.com/linnemanlabs/capetl/internal/pipeline"
)

var fixedNow = time.Date(2021, time.October, 5, 18, 42, 16, 0, time.UTC)

func newTestRouter(t *testing.T, svc PipelineService, auth func(http.Handler) http.Handler) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, svc, auth).RegisterRoutes(r)
	return r
}

func newPipeline(t *testing.T) *pipeline.Service {
	t.Helper()
	store, err := fsblob.New(t.TempDir())
	if err != nil {
		t.Fatalf("fsblob.New: %v", err)
	}
	cfg := pipeline.Config{Bucket: "etl", OnFieldError: "abort"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return pipeline.NewService(cfg, store, memledger.New(), log.Nop(),
		pipeline.WithClock(func() time.Time { return fixedNow }))
}

func post(t *testing.T, h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func fixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/feed.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return b
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &stubService{}, nil)
	if api.logger == nil {
		t.Fatal("New(nil, svc, nil) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, nil)
}

// End to end over the real pipeline

func TestAlertFlow(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newPipeline(t), nil)

	rec := post(t, r, "/api/v1/alerts/feed", fixture(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d, body %s", rec.Code, rec.Body.String())
	}
	var feed map[string]any
	decodeInto(t, rec, &feed)
	if feed["FileName"] != "etl/raw/ipaws/alerts/2021/10/5/2021-10-05T18:42:16Z.zip" {
		t.Fatalf("FileName = %v", feed["FileName"])
	}

	// the ingest response is a valid stage request
	rec = post(t, r, "/api/v1/alerts/stage", rec.Body.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stage pipeline.StageResult
	decodeInto(t, rec, &stage)
	if stage.CsvFile != "stage/ipaws/alerts/2021/10/05/2021-10-05T18:42:16Z.csv" || stage.Rows != 2 {
		t.Fatalf("stage = %+v", stage)
	}

	rec = post(t, r, "/api/v1/alerts/load", []byte(fmt.Sprintf(`{"csv_file":%q}`, stage.CsvFile)))
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, body %s", rec.Code, rec.Body.String())
	}
	var load pipeline.LoadResult
	decodeInto(t, rec, &load)
	if load.Target != "etl/stage/ipaws/alerts/snowpipe/2021-10-05T18:42:16Z.csv" {
		t.Errorf("Target = %q", load.Target)
	}

	// same feed again: nothing new, empty file name flows through as no-ops
	rec = post(t, r, "/api/v1/alerts/feed", fixture(t))
	decodeInto(t, rec, &feed)
	if rec.Code != http.StatusOK || feed["FileName"] != "" {
		t.Fatalf("repeat feed = %d %v", rec.Code, feed)
	}
	rec = post(t, r, "/api/v1/alerts/stage", rec.Body.Bytes())
	decodeInto(t, rec, &stage)
	if rec.Code != http.StatusOK || stage.CsvFile != "" {
		t.Errorf("no-op stage = %d %+v", rec.Code, stage)
	}

	rec = post(t, r, "/api/v1/alerts/backfill", []byte(`{"prefix":"raw/ipaws/alerts/"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("backfill status = %d, body %s", rec.Code, rec.Body.String())
	}
	var bf pipeline.BackfillResult
	decodeInto(t, rec, &bf)
	if len(bf.Staged) != 1 || len(bf.Failed) != 0 {
		t.Errorf("backfill = %+v", bf)
	}
}

func TestNotificationFlow(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newPipeline(t), nil)

	msg := []byte(`{"identifier":"abc","referenceIDs":["r1"],"Users":["u1",2],"polygon":"p","onsetTime":"t"}`)
	rec := post(t, r, "/api/v1/notifications", msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = post(t, r, "/api/v1/notifications/stage", rec.Body.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stage pipeline.StageResult
	decodeInto(t, rec, &stage)
	if stage.Rows != 2 {
		t.Fatalf("stage = %+v", stage)
	}

	// the stage response is a valid load request
	rec = post(t, r, "/api/v1/notifications/load", rec.Body.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, body %s", rec.Code, rec.Body.String())
	}
	var load pipeline.LoadResult
	decodeInto(t, rec, &load)
	if !strings.HasPrefix(load.Target, "etl/stage/ipaws/notifications/snowpipe/") {
		t.Errorf("Target = %q", load.Target)
	}
}

func TestMalformedInputs(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newPipeline(t), nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"feed not xml", "/api/v1/alerts/feed", "not xml <", http.StatusUnprocessableEntity},
		{"notification not json", "/api/v1/notifications", "{", http.StatusOK}, // archived raw, fails at stage
		{"stage bad json", "/api/v1/alerts/stage", "{bad", http.StatusBadRequest},
		{"stage bad locator", "/api/v1/alerts/stage", `{"file_name":"nokey"}`, http.StatusBadRequest},
		{"stage missing archive", "/api/v1/alerts/stage", `{"file_name":"etl/raw/ipaws/alerts/nope.zip"}`, http.StatusNotFound},
		{"load missing file", "/api/v1/alerts/load", `{"csv_file":"stage/ipaws/alerts/2021/10/05/x.csv"}`, http.StatusNotFound},
		{"load bad json", "/api/v1/notifications/load", "[", http.StatusBadRequest},
		{"fetch without feed", "/api/v1/alerts/fetch", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := post(t, r, tt.path, []byte(tt.body))
			if rec.Code != tt.want {
				t.Fatalf("POST %s = %d, want %d (body %s)", tt.path, rec.Code, tt.want, rec.Body.String())
			}
			if tt.want >= 400 {
				var er errorResponse
				decodeInto(t, rec, &er)
				if er.Error == "" {
					t.Error("error message empty")
				}
			}
		})
	}
}

func TestStageMalformedNotification(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newPipeline(t), nil)

	rec := post(t, r, "/api/v1/notifications", []byte("{"))
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", rec.Code)
	}
	rec = post(t, r, "/api/v1/notifications/stage", rec.Body.Bytes())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("stage status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStageFieldErrorReturnsPartialResult(t *testing.T) {
	t.Parallel()

	partial := &pipeline.StageResult{RunID: "r", CsvFile: "stage/x.csv", Rows: 1, Aborted: true}
	svc := &stubService{
		stageRes: partial,
		stageErr: fmt.Errorf("stage etl/a.zip: %w", &cap.MissingRequiredFieldError{Identifier: "A", Field: "status"}),
	}
	r := newTestRouter(t, svc, nil)

	rec := post(t, r, "/api/v1/alerts/stage", []byte(`{"file_name":"etl/a.zip"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error  string               `json:"error"`
		Result pipeline.StageResult `json:"result"`
	}
	decodeInto(t, rec, &body)
	if body.Result.CsvFile != "stage/x.csv" || !body.Result.Aborted || body.Result.Rows != 1 {
		t.Errorf("result = %+v", body.Result)
	}
	if svc.lastFile != "etl/a.zip" {
		t.Errorf("service saw %q", svc.lastFile)
	}
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &stubService{}, nil)

	paths := []string{
		"/api/v1/alerts/fetch", "/api/v1/alerts/feed", "/api/v1/alerts/stage",
		"/api/v1/alerts/load", "/api/v1/alerts/backfill",
		"/api/v1/notifications", "/api/v1/notifications/stage",
		"/api/v1/notifications/load", "/api/v1/notifications/backfill",
	}
	for _, p := range paths {
		for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(m, p, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s = %d, want %d", m, p, rec.Code, http.StatusMethodNotAllowed)
			}
		}
		if rec := post(t, r, p, nil); rec.Code != http.StatusOK {
			t.Errorf("POST %s = %d, want 200 (body %s)", p, rec.Code, rec.Body.String())
		}
	}
}

func TestRegisterRoutes_KindDispatch(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	r := newTestRouter(t, svc, nil)

	post(t, r, "/api/v1/notifications/load", []byte(`{"CsvFile":"a.csv"}`))
	if svc.lastKind != pipeline.KindNotifications || svc.lastFile != "a.csv" {
		t.Errorf("load dispatch = %q %q", svc.lastKind, svc.lastFile)
	}
	post(t, r, "/api/v1/alerts/backfill", []byte(`{"prefix":"raw/ipaws/alerts/2021"}`))
	if svc.lastKind != pipeline.KindAlerts || svc.lastFile != "raw/ipaws/alerts/2021" {
		t.Errorf("backfill dispatch = %q %q", svc.lastKind, svc.lastFile)
	}
	post(t, r, "/api/v1/notifications/stage", []byte(`{"file_name":"etl/n.zip","FileName":"ignored"}`))
	if svc.lastStage != "notifications" || svc.lastFile != "etl/n.zip" {
		t.Errorf("stage dispatch = %q %q", svc.lastStage, svc.lastFile)
	}
}

func TestRegisterRoutes_Auth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &stubService{}, authmw.BearerToken("tok"))

	rec := post(t, r, "/api/v1/alerts/load", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/load", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", rec.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &stubService{}, nil)
	h := http.MaxBytesHandler(r, 8)

	rec := post(t, h, "/api/v1/alerts/feed", bytes.Repeat([]byte("x"), 64))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", &cap.MalformedDocumentError{Kind: "feed", Err: errors.New("x")}, http.StatusUnprocessableEntity},
		{"missing field", fmt.Errorf("stage: %w", &cap.MissingRequiredFieldError{Field: "status"}), http.StatusUnprocessableEntity},
		{"corrupt archive", &archive.CorruptArchiveError{Err: errors.New("zip")}, http.StatusUnprocessableEntity},
		{"invalid locator", fmt.Errorf("%w %q", blob.ErrInvalidLocator, "x"), http.StatusBadRequest},
		{"not found", fmt.Errorf("get: %w", blob.ErrNotFound), http.StatusNotFound},
		{"ledger down", &dedup.LedgerUnavailableError{Op: "put", Err: errors.New("conn")}, http.StatusServiceUnavailable},
		{"store down", &blob.StoreUnavailableError{Op: "put", Err: errors.New("conn")}, http.StatusServiceUnavailable},
		{"feed unset", pipeline.ErrFeedNotConfigured, http.StatusServiceUnavailable},
		{"feed status", fmt.Errorf("fetch feed: %w", &ipaws.StatusError{URL: "u", Status: 403}), http.StatusBadGateway},
		{"deadline", fmt.Errorf("fetch feed: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// stubService records the last call and returns canned results. Each test
// owns its own stub so no locking is needed.
type stubService struct {
	lastKind  pipeline.Kind
	lastFile  string
	lastStage string

	stageRes *pipeline.StageResult
	stageErr error
}

func (s *stubService) FetchFeed(context.Context) (*pipeline.FeedResult, error) {
	return &pipeline.FeedResult{RunID: "run"}, nil
}

func (s *stubService) IngestFeed(_ context.Context, raw []byte) (*pipeline.FeedResult, error) {
	return &pipeline.FeedResult{RunID: "run"}, nil
}

func (s *stubService) StageAlerts(_ context.Context, fileName string) (*pipeline.StageResult, error) {
	s.lastStage, s.lastFile = "alerts", fileName
	return s.stage()
}

func (s *stubService) StageNotifications(_ context.Context, fileName string) (*pipeline.StageResult, error) {
	s.lastStage, s.lastFile = "notifications", fileName
	return s.stage()
}

func (s *stubService) stage() (*pipeline.StageResult, error) {
	if s.stageRes != nil || s.stageErr != nil {
		return s.stageRes, s.stageErr
	}
	return &pipeline.StageResult{RunID: "run"}, nil
}

func (s *stubService) IngestNotification(context.Context, []byte) (*pipeline.NotificationResult, error) {
	return &pipeline.NotificationResult{RunID: "run"}, nil
}

func (s *stubService) Load(_ context.Context, kind pipeline.Kind, csvFile string) (*pipeline.LoadResult, error) {
	s.lastKind, s.lastFile = kind, csvFile
	return &pipeline.LoadResult{RunID: "run"}, nil
}

func (s *stubService) Backfill(_ context.Context, kind pipeline.Kind, prefix string) (*pipeline.BackfillResult, error) {
	s.lastKind, s.lastFile = kind, prefix
	return &pipeline.BackfillResult{RunID: "run", Staged: []string{}}, nil
}
