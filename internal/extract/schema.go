// Package extract flattens sanitized CAP alerts and notification payloads
// into fixed-schema table rows.
package extract

import (
	"path"
	"strings"

	"github.com/linnemanlabs/capetl/internal/table"
)

// AlertSchema is the column order of staged alert files.
var AlertSchema = table.Schema{
	"identifier",
	"sender",
	"status",
	"msg_type",
	"source",
	"scope",
	"references",
	"info_category",
	"info_event",
	"info_responseType",
	"info_urgency",
	"info_severity",
	"info_certainty",
	"info_eventCodeSame",
	"info_eventCodeNWS",
	"info_effective",
	"info_onset",
	"info_expires",
	"info_senderName",
	"info_headline",
	"info_description",
	"info_instruction",
	"parameter_nwsHeadline",
	"parameter_expiredReferences",
	"area_desc",
	"area_geocodesSame",
	"area_geocodesUGC",
	"area_polygon",
	"alert_date",
	"source_file",
}

// NotificationSchema is the column order of staged notification files.
var NotificationSchema = table.Schema{
	"identifier",
	"references",
	"user",
	"polygon",
	"onset_time",
	"alert_date",
	"source_file",
}

// SourceFile maps an archive locator or key to the name of the table file
// staged from it: "raw/.../2021-10-05T18:42:16Z.zip" -> "2021-10-05T18:42:16Z.csv".
func SourceFile(archive string) string {
	base := path.Base(archive)
	return strings.TrimSuffix(base, path.Ext(base)) + ".csv"
}

// AlertDate is the alert_date column for alert files: the file base name
// without its extension.
func AlertDate(sourceFile string) string {
	base := path.Base(sourceFile)
	return strings.TrimSuffix(base, path.Ext(base))
}

// NotificationDate is the alert_date column for notification files: the
// date segment of the file name, before the "T" separator.
func NotificationDate(sourceFile string) string {
	base := path.Base(sourceFile)
	date, _, _ := strings.Cut(base, "T")
	return date
}

func newRow(schema table.Schema) table.Row {
	row := make(table.Row, len(schema))
	for _, col := range schema {
		row[col] = ""
	}
	return row
}
