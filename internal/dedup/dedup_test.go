package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/capetl/internal/cap"
)

// mockLedger implements Ledger for testing.
type mockLedger struct {
	mu        sync.Mutex
	ids       map[string]bool
	puts      []string
	existsErr error
	putErr    error
	failOn    string
}

func newMockLedger(seed ...string) *mockLedger {
	m := &mockLedger{ids: make(map[string]bool)}
	for _, id := range seed {
		m.ids[id] = true
	}
	return m
}

func (m *mockLedger) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil && (m.failOn == "" || m.failOn == id) {
		return false, m.existsErr
	}
	return m.ids[id], nil
}

func (m *mockLedger) Put(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.ids[id] = true
	m.puts = append(m.puts, id)
	return nil
}

func feed(t *testing.T, ids ...string) *cap.Document {
	t.Helper()
	raw := "<alerts>"
	for _, id := range ids {
		if id == "" {
			raw += "<alert><status>Actual</status></alert>"
			continue
		}
		raw += "<alert><identifier>urn:oid:" + id + "</identifier></alert>"
	}
	raw += "</alerts>"
	doc, err := cap.Sanitize([]byte(raw))
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	return doc
}

func remaining(doc *cap.Document) []string {
	var ids []string
	for _, al := range doc.Alerts() {
		ids = append(ids, cap.StripURN(cap.Optional(al, "identifier")))
	}
	return ids
}

func TestFilter_DropsPreviouslyRecorded(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger("b")
	doc := feed(t, "a", "b", "c")

	res, err := New(ledger).Filter(context.Background(), doc)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if res.Count() != 2 {
		t.Errorf("Count = %d, want 2", res.Count())
	}
	if diff := cmp.Diff([]string{"a", "c"}, ledger.puts); diff != "" {
		t.Errorf("ledger puts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, remaining(doc)); diff != "" {
		t.Errorf("remaining alerts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, res.Duplicates); diff != "" {
		t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_RepeatInsideOneDocument(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger()
	doc := feed(t, "a", "a")

	res, err := New(ledger).Filter(context.Background(), doc)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if res.Count() != 1 {
		t.Errorf("Count = %d, want 1", res.Count())
	}
	if len(ledger.puts) != 1 {
		t.Errorf("ledger puts = %d, want 1", len(ledger.puts))
	}
	if len(doc.Alerts()) != 1 {
		t.Errorf("alerts left = %d, want 1", len(doc.Alerts()))
	}
}

func TestFilter_DropsAlertsWithoutIdentifier(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger()
	doc := feed(t, "", "a")

	res, err := New(ledger).Filter(context.Background(), doc)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if res.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", res.Malformed)
	}
	if diff := cmp.Diff([]string{"a"}, remaining(doc)); diff != "" {
		t.Errorf("remaining alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_AllDuplicates(t *testing.T) {
	t.Parallel()

	doc := feed(t, "a", "b")
	res, err := New(newMockLedger("a", "b")).Filter(context.Background(), doc)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if res.Count() != 0 {
		t.Errorf("Count = %d, want 0", res.Count())
	}
	if len(doc.Alerts()) != 0 {
		t.Errorf("alerts left = %d, want 0", len(doc.Alerts()))
	}
}

func TestFilter_LedgerFailureKeepsEarlierRecords(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger()
	ledger.existsErr = errors.New("connection refused")
	ledger.failOn = "b"

	res, err := New(ledger).Filter(context.Background(), feed(t, "a", "b", "c"))
	var le *LedgerUnavailableError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LedgerUnavailableError", err)
	}
	if le.Identifier != "b" || le.Op != "exists" {
		t.Errorf("error identifier/op = %q/%q, want b/exists", le.Identifier, le.Op)
	}
	if diff := cmp.Diff([]string{"a"}, ledger.puts); diff != "" {
		t.Errorf("ledger puts mismatch (-want +got):\n%s", diff)
	}
	if res.Count() != 1 {
		t.Errorf("Count = %d, want 1", res.Count())
	}
}

func TestIsNewAfterRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := New(newMockLedger())

	isNew, err := d.IsNew(ctx, "x")
	if err != nil || !isNew {
		t.Fatalf("IsNew before Record = %v, %v; want true, nil", isNew, err)
	}
	if err := d.Record(ctx, "x"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	isNew, err = d.IsNew(ctx, "x")
	if err != nil || isNew {
		t.Fatalf("IsNew after Record = %v, %v; want false, nil", isNew, err)
	}
}

func TestRecord_WrapsPutError(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger()
	ledger.putErr = errors.New("throttled")

	err := New(ledger).Record(context.Background(), "x")
	var le *LedgerUnavailableError
	if !errors.As(err, &le) || le.Op != "put" {
		t.Fatalf("err = %v, want LedgerUnavailableError with op put", err)
	}
}
