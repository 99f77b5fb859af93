package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/capetl/internal/cap"
	"github.com/linnemanlabs/capetl/internal/table"
)

// notification is the JSON payload pushed for each user notification batch.
type notification struct {
	Identifier   string   `json:"identifier"`
	ReferenceIDs []string `json:"referenceIDs"`
	Users        []userID `json:"Users"`
	Polygon      string   `json:"polygon"`
	OnsetTime    string   `json:"onsetTime"`
}

// userID accepts user identifiers encoded as JSON strings or numbers.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*u = userID(n.String())
	return nil
}

// Notifications decodes one notification payload and returns one row of
// NotificationSchema per user. A payload without users yields no rows.
func Notifications(payload []byte, sourceFile string) ([]table.Row, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, &cap.MalformedDocumentError{Kind: "notification", Err: err}
	}

	refs := strings.Join(n.ReferenceIDs, "")
	alertDate := NotificationDate(sourceFile)

	rows := make([]table.Row, 0, len(n.Users))
	for _, u := range n.Users {
		row := newRow(NotificationSchema)
		row["identifier"] = n.Identifier
		row["references"] = refs
		row["user"] = string(u)
		row["polygon"] = n.Polygon
		row["onset_time"] = n.OnsetTime
		row["alert_date"] = alertDate
		row["source_file"] = sourceFile
		rows = append(rows, row)
	}
	return rows, nil
}
