package extract

import (
	"errors"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/linnemanlabs/capetl/internal/cap"
	"github.com/linnemanlabs/capetl/internal/table"
)

// Retained names for the name/value entries of an alert.
const (
	codeSAME = "SAME"
	codeNWS  = "NationalWeatherService"
	codeUGC  = "UGC"

	paramHeadline    = "NWSheadline"
	paramExpiredRefs = "expiredReferences"
)

// Alerts flattens every alert of doc into one row of AlertSchema.
//
// Under AbortBatch the first failing alert ends the pass: the rows built
// before it are returned together with its error. Under SkipAlert failing
// alerts are left out, their errors are collected in the report, and the
// returned error is nil.
func Alerts(doc *cap.Document, sourceFile string, policy Policy) ([]table.Row, *Report, error) {
	report := &Report{Policy: policy}
	alertDate := AlertDate(sourceFile)

	var rows []table.Row
	for _, al := range doc.Alerts() {
		report.Alerts++
		row, err := alertRow(al)
		if err != nil {
			report.Errors = append(report.Errors, err)
			if policy == AbortBatch {
				report.Aborted = true
				return rows, report, err
			}
			continue
		}
		row["alert_date"] = alertDate
		row["source_file"] = sourceFile
		rows = append(rows, row)
		report.Rows++
	}
	return rows, report, nil
}

// alertRow builds a fresh row for one alert. Errors from below the alert
// level are tagged with the alert identifier once it is known.
func alertRow(al *xmlquery.Node) (table.Row, error) {
	row := newRow(AlertSchema)

	id, err := cap.Required(al, "identifier")
	if err != nil {
		return nil, err
	}
	id = cap.StripURN(id)
	row["identifier"] = id

	if err := fillAlert(al, row); err != nil {
		var mf *cap.MissingRequiredFieldError
		if errors.As(err, &mf) && mf.Identifier == "" {
			mf.Identifier = id
		}
		return nil, err
	}
	return row, nil
}

func fillAlert(al *xmlquery.Node, row table.Row) error {
	var err error
	row["sender"] = cap.Optional(al, "sender")
	if row["status"], err = cap.Required(al, "status"); err != nil {
		return err
	}
	if row["msg_type"], err = cap.Required(al, "msgType"); err != nil {
		return err
	}
	row["source"] = cap.Optional(al, "source")
	row["scope"] = cap.Optional(al, "scope")
	row["references"] = cap.JoinReferences(cap.Optional(al, "references"))

	info, err := cap.RequiredChild(al, "info")
	if err != nil {
		return err
	}
	if err := fillInfo(info, row); err != nil {
		return err
	}

	area, err := cap.RequiredChild(info, "area")
	if err != nil {
		return err
	}
	return fillArea(area, row)
}

func fillInfo(info *xmlquery.Node, row table.Row) error {
	row["info_category"] = cap.Optional(info, "category")
	row["info_event"] = cap.Optional(info, "event")
	row["info_responseType"] = cap.Optional(info, "responseType")
	row["info_urgency"] = cap.Optional(info, "urgency")
	row["info_severity"] = cap.Optional(info, "severity")
	row["info_certainty"] = cap.Optional(info, "certainty")

	codes, err := namedValues(info, "eventCode", codeSAME, codeNWS)
	if err != nil {
		return err
	}
	row["info_eventCodeSame"] = first(codes[codeSAME])
	row["info_eventCodeNWS"] = first(codes[codeNWS])

	row["info_effective"] = cap.Optional(info, "effective")
	row["info_onset"] = cap.Optional(info, "onset")
	row["info_expires"] = cap.Optional(info, "expires")
	row["info_senderName"] = cap.Optional(info, "senderName")
	row["info_headline"] = cap.Optional(info, "headline")
	row["info_description"] = cap.Optional(info, "description")
	row["info_instruction"] = cap.Optional(info, "instruction")

	params, err := namedValues(info, "parameter", paramHeadline, paramExpiredRefs)
	if err != nil {
		return err
	}
	row["parameter_nwsHeadline"] = first(params[paramHeadline])
	row["parameter_expiredReferences"] = cap.JoinReferences(first(params[paramExpiredRefs]))
	return nil
}

func fillArea(area *xmlquery.Node, row table.Row) error {
	row["area_desc"] = cap.Optional(area, "areaDesc")
	row["area_polygon"] = cap.Optional(area, "polygon")

	geocodes, err := namedValues(area, "geocode", codeSAME, codeUGC)
	if err != nil {
		return err
	}
	row["area_geocodesSame"] = strings.Join(geocodes[codeSAME], ",")
	row["area_geocodesUGC"] = strings.Join(geocodes[codeUGC], ",")
	return nil
}

// namedValues scans the valueName/value entries named element under parent.
// Every entry must carry a valueName; entries whose name is in keep must also
// carry a value. Values are returned per kept name in document order.
func namedValues(parent *xmlquery.Node, element string, keep ...string) (map[string][]string, error) {
	out := make(map[string][]string, len(keep))
	for _, entry := range cap.Children(parent, element) {
		name, err := cap.Required(entry, "valueName")
		if err != nil {
			return nil, err
		}
		if !slices.Contains(keep, name) {
			continue
		}
		value, err := cap.Required(entry, "value")
		if err != nil {
			return nil, err
		}
		out[name] = append(out[name], value)
	}
	return out, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
