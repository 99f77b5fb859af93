package cap

import "fmt"

// MalformedDocumentError reports a source document that could not be parsed.
type MalformedDocumentError struct {
	Kind string // "alert feed", "notification", ...
	Err  error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed %s document", e.Kind)
	}
	return fmt.Sprintf("malformed %s document: %v", e.Kind, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// MissingRequiredFieldError reports a required child element that is absent.
// Identifier is filled in by callers that know which alert was being read.
type MissingRequiredFieldError struct {
	Field      string
	Parent     string
	Identifier string
}

func (e *MissingRequiredFieldError) Error() string {
	msg := fmt.Sprintf("field %s is required", e.Field)
	if e.Parent != "" {
		msg += " in <" + e.Parent + ">"
	}
	if e.Identifier != "" {
		msg += " (alert " + e.Identifier + ")"
	}
	return msg
}
