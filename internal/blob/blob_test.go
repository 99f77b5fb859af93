package blob

import (
	"errors"
	"testing"
	"time"
)

func TestParseLocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Locator
		wantErr bool
	}{
		{in: "bucket/raw/a.zip", want: Locator{Container: "bucket", Path: "raw/a.zip"}},
		{in: "/bucket/a", want: Locator{Container: "bucket", Path: "a"}},
		{in: "bucket", wantErr: true},
		{in: "bucket/", wantErr: true},
		{in: "/a", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLocator(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLocator(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidLocator) {
			t.Errorf("ParseLocator(%q) err = %v, want ErrInvalidLocator", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLocator(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() != "bucket/"+tt.want.Path {
			t.Errorf("String() = %q", got.String())
		}
	}
}

func TestRawKey(t *testing.T) {
	t.Parallel()

	ts := time.Date(2021, time.October, 5, 18, 42, 16, 987654321, time.UTC)
	got := RawKey(RawAlerts, ts, "zip")
	want := "raw/ipaws/alerts/2021/10/5/2021-10-05T18:42:16Z.zip"
	if got != want {
		t.Errorf("RawKey = %q, want %q", got, want)
	}

	local := time.Date(2021, time.March, 1, 1, 2, 3, 0, time.FixedZone("X", 5*3600))
	got = RawKey(RawNotifications+"/", local, "zip")
	want = "raw/ipaws/notifications/2021/2/28/2021-02-28T20:02:03Z.zip"
	if got != want {
		t.Errorf("RawKey non-UTC = %q, want %q", got, want)
	}
}

func TestStageKey(t *testing.T) {
	t.Parallel()

	got, err := StageKey(StageAlerts, "2021-10-05T18:42:16Z.csv")
	if err != nil {
		t.Fatalf("StageKey: %v", err)
	}
	if want := "stage/ipaws/alerts/2021/10/05/2021-10-05T18:42:16Z.csv"; got != want {
		t.Errorf("StageKey = %q, want %q", got, want)
	}

	for _, bad := range []string{"alerts.csv", "2021-10T00.csv", ""} {
		if _, err := StageKey(StageAlerts, bad); err == nil {
			t.Errorf("StageKey(%q) expected error", bad)
		}
	}
}

func TestSnowpipeKey(t *testing.T) {
	t.Parallel()

	got := SnowpipeKey(StageNotifications, "stage/ipaws/notifications/2021/10/25/2021-10-25T00:00:51Z.csv")
	if want := "stage/ipaws/notifications/snowpipe/2021-10-25T00:00:51Z.csv"; got != want {
		t.Errorf("SnowpipeKey = %q, want %q", got, want)
	}
}
