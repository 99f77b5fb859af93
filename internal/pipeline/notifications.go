package pipeline

import (
	"context"

	"github.com/linnemanlabs/capetl/internal/archive"
	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/extract"
)

// NotificationResult is the outcome of ingesting one notification message.
type NotificationResult struct {
	RunID    string `json:"run_id"`
	FileName string `json:"FileName"`
}

// IngestNotification archives one notification message under
// raw/ipaws/notifications. Notifications are not deduplicated. An empty
// message is a no-op.
func (s *Service) IngestNotification(ctx context.Context, msg []byte) (_ *NotificationResult, err error) {
	ctx, runID, L, done := s.run(ctx, "ingest", KindNotifications, &err)
	defer done()

	res := &NotificationResult{RunID: runID}
	if len(msg) == 0 {
		L.Info(ctx, "no new message to process")
		return res, nil
	}

	zipped, err := archive.Pack(notificationEntry, msg)
	if err != nil {
		L.Error(ctx, err, "pack notification failed")
		return nil, err
	}
	s.metrics.observeArchive(KindNotifications, len(zipped))

	loc := blob.Locator{Container: s.bucket, Path: blob.RawKey(blob.RawNotifications, s.now(), "zip")}
	if err := s.store.Put(ctx, loc, zipped); err != nil {
		L.Error(ctx, err, "upload raw archive failed", "file", loc.String())
		return nil, err
	}
	L.Info(ctx, "uploaded raw archive", "file", loc.String(), "bytes", len(zipped))
	res.FileName = loc.String()
	return res, nil
}

// StageNotifications reads a raw notification archive ({bucket}/{key}) and
// writes one row per user under stage/ipaws/notifications.
func (s *Service) StageNotifications(ctx context.Context, fileName string) (_ *StageResult, err error) {
	ctx, runID, L, done := s.run(ctx, "stage", KindNotifications, &err)
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

	rows, err := extract.Notifications(payload, csvName)
	if err != nil {
		L.Error(ctx, err, "decode notification failed", "file", fileName)
		return nil, err
	}

	key, err := s.writeTable(ctx, blob.StageNotifications, csvName, extract.NotificationSchema, rows)
	if err != nil {
		L.Error(ctx, err, "write staged table failed", "file", csvName)
		return nil, err
	}
	res.CsvFile = key
	res.Rows = len(rows)
	s.metrics.observeRows(KindNotifications, len(rows))
	L.Info(ctx, "staged notifications", "csv", key, "rows", len(rows))
	return res, nil
}
