package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/capetl/internal/ledger/pgledger.(*Ledger).Exists", "(*Ledger).Exists"},
		{"already short", "(*Ledger).Put", "Put"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgledger.(*Ledger).Put", "(*Ledger).Put"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT EXISTS (SELECT 1)", "SELECT"},
		{"\n\tinsert into alert_ledger", "INSERT"},
		{"", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := operationName(tt.sql); got != tt.want {
			t.Errorf("operationName(%q) = %q, want %q", tt.sql, got, tt.want)
		}
	}
	if got := compactSQL("SELECT\n  1\n\tFROM x"); got != "SELECT 1 FROM x" {
		t.Errorf("compactSQL = %q", got)
	}
}

type recordingTracer struct {
	started, ended int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.started++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.ended++
}

// TestLoggingTracer_ObservesQueries is not parallel: it swaps the global observer.
func TestLoggingTracer_ObservesQueries(t *testing.T) {
	defer SetQueryObserver(nil)

	type obs struct{ op, route, outcome string }
	var got []obs
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, route, outcome string, _ time.Duration) {
		got = append(got, obs{op, route, outcome})
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner, time.Hour)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "INSERT INTO t"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if inner.started != 2 || inner.ended != 2 {
		t.Errorf("inner tracer calls = %d/%d, want 2/2", inner.started, inner.ended)
	}
	want := []obs{{"SELECT", "none", "ok"}, {"INSERT", "none", "error"}}
	if len(got) != len(want) {
		t.Fatalf("observations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	good := Config{MaxConns: 4, ConnectTimeout: time.Second}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	bad := Config{MaxConns: 0, SlowQuery: -1, ConnectTimeout: 0}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
}
