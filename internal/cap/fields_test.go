package cap

import (
	"errors"
	"testing"
)

func TestLookupAndRequired(t *testing.T) {
	t.Parallel()

	doc, err := Sanitize([]byte(`<alerts><alert><status> Actual </status><sender></sender></alert></alerts>`))
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	al := doc.Alerts()[0]

	if v, ok := Lookup(al, "status"); !ok || v != "Actual" {
		t.Errorf("Lookup(status) = %q, %v; want Actual, true", v, ok)
	}
	if v, ok := Lookup(al, "sender"); !ok || v != "" {
		t.Errorf("Lookup(sender) = %q, %v; want empty, true", v, ok)
	}
	if _, ok := Lookup(al, "scope"); ok {
		t.Error("Lookup(scope) reported a missing child as present")
	}
	if got := Optional(al, "scope"); got != "" {
		t.Errorf("Optional(scope) = %q, want empty", got)
	}

	_, err = Required(al, "msgType")
	var mf *MissingRequiredFieldError
	if !errors.As(err, &mf) {
		t.Fatalf("Required(msgType) err = %v, want MissingRequiredFieldError", err)
	}
	if mf.Field != "msgType" || mf.Parent != "alert" {
		t.Errorf("error field/parent = %q/%q, want msgType/alert", mf.Field, mf.Parent)
	}

	if _, err := RequiredChild(al, "info"); !errors.As(err, &mf) {
		t.Errorf("RequiredChild(info) err = %v, want MissingRequiredFieldError", err)
	}
}

func TestLookup_TrimsOuterWhitespaceOnly(t *testing.T) {
	t.Parallel()

	doc, err := Sanitize([]byte("<alerts><alert><info><description>\n    Line one.\n    Line two.\n  </description></info></alert></alerts>"))
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	info := Child(doc.Alerts()[0], "info")

	want := "Line one.\n    Line two."
	if got := Optional(info, "description"); got != want {
		t.Errorf("Optional(description) = %q, want %q", got, want)
	}
	if got, err := Required(info, "description"); err != nil || got != want {
		t.Errorf("Required(description) = %q, %v; want %q", got, err, want)
	}
}

func TestParseReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"NWS,2021-10-05T12:00:00,abc123", "2021-10-05T12:00:00"},
		{"abc123", "abc123"},
		{"", ""},
		{"s,urn:oid:1.2.3,2021 s,urn:oid:4.5.6,2021", "1.2.3,4.5.6"},
		{"first,second", "first"},
		{"  padded   tokens ", "padded,tokens"},
	}

	for _, tt := range tests {
		if got := JoinReferences(tt.in); got != tt.want {
			t.Errorf("JoinReferences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripURN(t *testing.T) {
	t.Parallel()

	if got := StripURN("urn:oid:2.49.0.1"); got != "2.49.0.1" {
		t.Errorf("StripURN = %q", got)
	}
	if got := StripURN("2.49.0.1"); got != "2.49.0.1" {
		t.Errorf("StripURN without prefix = %q", got)
	}
}
