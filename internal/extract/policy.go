package extract

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides what happens to the rest of a batch when one alert fails
// extraction.
type Policy int

const (
	// AbortBatch stops at the first failing alert and keeps the rows
	// produced before it.
	AbortBatch Policy = iota
	// SkipAlert drops the failing alert and carries on with the next one.
	SkipAlert
)

func (p Policy) String() string {
	switch p {
	case AbortBatch:
		return "abort"
	case SkipAlert:
		return "skip"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "abort" or "skip".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "":
		return AbortBatch, nil
	case "skip":
		return SkipAlert, nil
	default:
		return AbortBatch, fmt.Errorf("unknown field error policy %q (want abort or skip)", s)
	}
}

// Report summarizes one extraction pass.
type Report struct {
	Policy  Policy
	Alerts  int     // alert elements seen before the pass ended
	Rows    int     // rows produced
	Aborted bool    // true when AbortBatch stopped the pass early
	Errors  []error // per-alert extraction failures in document order
}

// Failed reports whether any alert failed extraction.
func (r *Report) Failed() bool { return len(r.Errors) > 0 }

// Err joins the collected errors, or returns nil.
func (r *Report) Err() error { return errors.Join(r.Errors...) }
