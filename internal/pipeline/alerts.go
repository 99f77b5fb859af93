package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/linnemanlabs/capetl/internal/archive"
	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/cap"
	"github.com/linnemanlabs/capetl/internal/extract"
	"github.com/linnemanlabs/capetl/internal/table"
)

// FeedResult is the outcome of ingesting one feed document. FileName is the
// {bucket}/{key} locator of the raw archive, or empty when nothing was new.
type FeedResult struct {
	RunID      string   `json:"run_id"`
	FileName   string   `json:"FileName"`
	Retained   []string `json:"retained"`
	Duplicates int      `json:"duplicates"`
	Malformed  int      `json:"malformed"`
}

// AlertBrief is the short description of a retained alert sent to the
// notifier.
type AlertBrief struct {
	Identifier string
	Event      string
	Severity   string
	AreaDesc   string
}

// IngestSummary describes a feed ingest that archived new alerts.
type IngestSummary struct {
	RunID      string
	FileName   string
	Alerts     []AlertBrief
	Duplicates int
	At         time.Time
}

// FetchFeed pulls the feed from the configured source and ingests it.
func (s *Service) FetchFeed(ctx context.Context) (*FeedResult, error) {
	if s.feed == nil {
		return nil, ErrFeedNotConfigured
	}
	start := time.Now()
	raw, err := s.feed.Fetch(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "feed fetch failed")
		s.metrics.observeRun("fetch", start, err)
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	s.metrics.observeRun("fetch", start, nil)
	return s.IngestFeed(ctx, raw)
}

// IngestFeed sanitizes and deduplicates a feed document and archives the
// new alerts under raw/ipaws/alerts. Ledger entries written before a
// failure are kept.
func (s *Service) IngestFeed(ctx context.Context, raw []byte) (_ *FeedResult, err error) {
	ctx, runID, L, done := s.run(ctx, "ingest", KindAlerts, &err)
	defer done()

	doc, err := cap.Sanitize(raw)
	if err != nil {
		L.Error(ctx, err, "sanitize feed failed", "bytes", len(raw))
		return nil, err
	}
	L.Info(ctx, "removed namespaces and signatures from feed document", "alerts", len(doc.Alerts()))

	dr, err := s.dedup.Filter(ctx, doc)
	if dr != nil {
		s.metrics.observeDedup(dr.Count(), len(dr.Duplicates), dr.Malformed)
	}
	if err != nil {
		L.Error(ctx, err, "dedup failed", "retained_before_failure", dr.Count())
		return nil, err
	}

	res := &FeedResult{
		RunID:      runID,
		Retained:   dr.Retained,
		Duplicates: len(dr.Duplicates),
		Malformed:  dr.Malformed,
	}
	if dr.Count() == 0 {
		L.Info(ctx, "no new alerts", "duplicates", res.Duplicates, "malformed", res.Malformed)
		return res, nil
	}
	L.Info(ctx, "new alerts", "count", dr.Count(), "duplicates", res.Duplicates, "malformed", res.Malformed)

	zipped, err := archive.Pack(alertsEntry, doc.Bytes())
	if err != nil {
		L.Error(ctx, err, "pack alerts failed")
		return nil, err
	}
	s.metrics.observeArchive(KindAlerts, len(zipped))

	now := s.now()
	loc := blob.Locator{Container: s.bucket, Path: blob.RawKey(blob.RawAlerts, now, "zip")}
	if err := s.store.Put(ctx, loc, zipped); err != nil {
		L.Error(ctx, err, "upload raw archive failed", "file", loc.String())
		return nil, err
	}
	L.Info(ctx, "uploaded raw archive", "file", loc.String(), "bytes", len(zipped))
	res.FileName = loc.String()

	if s.notifier != nil {
		summary := &IngestSummary{
			RunID:      runID,
			FileName:   res.FileName,
			Alerts:     briefs(doc),
			Duplicates: res.Duplicates,
			At:         now,
		}
		if nerr := s.notifier.NotifyIngest(ctx, summary); nerr != nil {
			L.Warn(ctx, "ingest notification failed", "error", nerr.Error())
		}
	}
	return res, nil
}

func briefs(doc *cap.Document) []AlertBrief {
	alerts := doc.Alerts()
	out := make([]AlertBrief, 0, len(alerts))
	for _, al := range alerts {
		info := cap.Child(al, "info")
		var area *xmlquery.Node
		if info != nil {
			area = cap.Child(info, "area")
		}
		out = append(out, AlertBrief{
			Identifier: cap.StripURN(cap.Optional(al, "identifier")),
			Event:      cap.Optional(info, "event"),
			Severity:   cap.Optional(info, "severity"),
			AreaDesc:   cap.Optional(area, "areaDesc"),
		})
	}
	return out
}

// StageResult is the outcome of staging one raw archive. CsvFile is the
// key of the staged table inside the service bucket, or empty when there
// was nothing to stage.
type StageResult struct {
	RunID   string   `json:"run_id"`
	CsvFile string   `json:"CsvFile"`
	Alerts  int      `json:"alerts,omitempty"`
	Rows    int      `json:"rows"`
	Aborted bool     `json:"aborted,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// StageAlerts reads a raw alert archive ({bucket}/{key}), flattens its
// alerts and writes the table under stage/ipaws/alerts. Under AbortBatch a
// field error still stages the rows produced before it; the result and the
// error are both returned.
func (s *Service) StageAlerts(ctx context.Context, fileName string) (_ *StageResult, err error) {
	ctx, runID, L, done := s.run(ctx, "stage", KindAlerts, &err)
	defer done()

	res := &StageResult{RunID: runID}
	if fileName == "" {
		L.Info(ctx, "no new file to process")
		return res, nil
	}
	L.Info(ctx, "processing archive", "file", fileName)

	payload, csvName, err := s.readArchive(ctx, fileName)
	if err != nil {
		L.Error(ctx, err, "read archive failed", "file", fileName)
		return nil, err
	}
	doc, err := cap.Sanitize(payload)
	if err != nil {
		L.Error(ctx, err, "parse archived feed failed", "file", fileName)
		return nil, err
	}

	rows, report, extractErr := extract.Alerts(doc, csvName, s.policy)
	res.Alerts = report.Alerts
	res.Rows = len(rows)
	res.Aborted = report.Aborted
	for _, e := range report.Errors {
		res.Errors = append(res.Errors, e.Error())
		L.Warn(ctx, "alert extraction failed", "policy", report.Policy.String(), "error", e.Error())
	}
	s.metrics.observeFieldErrors(report.Policy.String(), len(report.Errors))

	key, err := s.writeTable(ctx, blob.StageAlerts, csvName, extract.AlertSchema, rows)
	if err != nil {
		L.Error(ctx, err, "write staged table failed", "file", csvName)
		return nil, err
	}
	res.CsvFile = key
	s.metrics.observeRows(KindAlerts, len(rows))
	L.Info(ctx, "staged alerts", "csv", key, "rows", len(rows), "alerts", report.Alerts, "aborted", report.Aborted)

	if extractErr != nil {
		return res, fmt.Errorf("stage %s: %w", fileName, extractErr)
	}
	return res, nil
}

// readArchive fetches and unpacks a raw archive and derives the staged
// table name from it.
func (s *Service) readArchive(ctx context.Context, fileName string) ([]byte, string, error) {
	loc, err := blob.ParseLocator(fileName)
	if err != nil {
		return nil, "", err
	}
	zipped, err := s.store.Get(ctx, loc)
	if err != nil {
		return nil, "", err
	}
	_, payload, err := archive.Unpack(zipped)
	if err != nil {
		return nil, "", fmt.Errorf("unpack %s: %w", loc, err)
	}
	return payload, extract.SourceFile(loc.Path), nil
}

func (s *Service) writeTable(ctx context.Context, prefix, csvName string, schema table.Schema, rows []table.Row) (string, error) {
	body, err := table.Encode(schema, rows)
	if err != nil {
		return "", err
	}
	key, err := blob.StageKey(prefix, csvName)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, blob.Locator{Container: s.bucket, Path: key}, body); err != nil {
		return "", err
	}
	return key, nil
}
