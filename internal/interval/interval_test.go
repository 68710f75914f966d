package interval

import (
	"testing"
	"time"
)

func TestFloor(t *testing.T) {
	sydney := time.FixedZone("AEDT", 11*60*60)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "already aligned",
			in:   time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC),
			want: time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "one second past boundary",
			in:   time.Date(2025, 12, 29, 9, 40, 1, 0, time.UTC),
			want: time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "last instant of interval",
			in:   time.Date(2025, 12, 29, 9, 44, 59, 999999999, time.UTC),
			want: time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "non-utc input is converted",
			in:   time.Date(2025, 12, 29, 20, 42, 30, 0, sydney),
			want: time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Floor(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("Floor(%s) = %s, want %s", tt.in, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("Floor(%s) location = %s, want UTC", tt.in, got.Location())
			}
			if again := Floor(got); !again.Equal(got) {
				t.Errorf("Floor is not idempotent: %s then %s", got, again)
			}
		})
	}
}

func TestFloorSameBucket(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for offset := time.Duration(0); offset < Duration; offset += 7 * time.Second {
		if got := Floor(base.Add(offset)); !got.Equal(base) {
			t.Fatalf("Floor(base+%s) = %s, want %s", offset, got, base)
		}
	}
	if got := Floor(base.Add(Duration)); !got.Equal(base.Add(Duration)) {
		t.Fatalf("next boundary floored to %s", got)
	}
}

func TestSpan(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	wantStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		end     time.Time
		wantEnd time.Time
	}{
		{"missing end", time.Time{}, wantStart.Add(Duration)},
		{"jittered end", time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC), wantStart.Add(Duration)},
		{"end before start", time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), wantStart.Add(Duration)},
		{"end inside first bucket", time.Date(2025, 1, 1, 0, 4, 59, 0, time.UTC), wantStart.Add(Duration)},
		{"thirty minute interval", time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC), wantStart.Add(30 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := Span(start, tt.end)
			if !s.Equal(wantStart) {
				t.Errorf("start = %s, want %s", s, wantStart)
			}
			if !e.Equal(tt.wantEnd) {
				t.Errorf("end = %s, want %s", e, tt.wantEnd)
			}
		})
	}
}

func TestLegacyKey(t *testing.T) {
	canonical := time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC)
	got := LegacyKey(canonical)
	if got.Sub(canonical) != time.Second {
		t.Fatalf("LegacyKey offset = %s, want 1s", got.Sub(canonical))
	}
	if Format(got) != "2025-12-29T09:40:01Z" {
		t.Fatalf("LegacyKey formatted = %s", Format(got))
	}
}

func TestAgeClampsNegative(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := Age(now, now.Add(10*time.Minute)); got != 0 {
		t.Errorf("Age of future end = %s, want 0", got)
	}
	if got := Age(now, now.Add(-7*time.Minute)); got != 7*time.Minute {
		t.Errorf("Age = %s, want 7m", got)
	}
}

func TestParse(t *testing.T) {
	want := time.Date(2025, 12, 29, 9, 40, 1, 0, time.UTC)

	inputs := []string{
		"2025-12-29T09:40:01Z",
		"2025-12-29T20:40:01+11:00",
		"2025-12-29T09:40:01",
		"2025-12-29 09:40:01",
		" 2025-12-29T09:40:01Z ",
	}
	for _, in := range inputs {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("Parse(%q) = %s, want %s", in, got, want)
		}
	}

	for _, bad := range []string{"", "yesterday", "2025-13-45T00:00:00Z"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
}

func TestFormatSortsChronologically(t *testing.T) {
	a := Format(time.Date(2025, 9, 30, 23, 55, 0, 0, time.UTC))
	b := Format(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if _, err := ParseStored(a); err != nil {
		t.Fatalf("ParseStored(%s): %v", a, err)
	}
}
