package blob

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Key prefixes of the pipeline stages.
const (
	RawAlerts          = "raw/ipaws/alerts"
	RawNotifications   = "raw/ipaws/notifications"
	StageAlerts        = "stage/ipaws/alerts"
	StageNotifications = "stage/ipaws/notifications"
)

// RawKey returns the date partitioned key of an archive written at t:
// {prefix}/{y}/{m}/{d}/{yyyy-mm-ddThh:mm:ss}Z.{ext}. The partition
// directories are not zero padded; the file name is.
func RawKey(prefix string, t time.Time, ext string) string {
	t = t.UTC().Truncate(time.Second)
	return fmt.Sprintf("%s/%d/%d/%d/%sZ.%s",
		strings.TrimSuffix(prefix, "/"),
		t.Year(), int(t.Month()), t.Day(),
		t.Format("2006-01-02T15:04:05"),
		ext)
}

// StageKey partitions fileName by the date it starts with:
// "2021-10-05T18:42:16Z.csv" -> {prefix}/2021/10/05/2021-10-05T18:42:16Z.csv.
func StageKey(prefix, fileName string) (string, error) {
	base := path.Base(fileName)
	date, _, _ := strings.Cut(base, "T")
	parts := strings.Split(date, "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("file name %q does not start with a yyyy-mm-dd date", base)
	}
	return path.Join(strings.TrimSuffix(prefix, "/"), parts[0], parts[1], parts[2], base), nil
}

// SnowpipeKey is the load location of a staged file.
func SnowpipeKey(prefix, file string) string {
	return path.Join(strings.TrimSuffix(prefix, "/"), "snowpipe", path.Base(file))
}
