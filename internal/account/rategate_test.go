package account

import (
	"testing"
	"time"
)

func TestGateDrawWithinBounds(t *testing.T) {
	t.Parallel()
	g := NewGate(30*time.Second, 60*time.Second)
	for i := 0; i < 200; i++ {
		d := g.Draw()
		if d < 30*time.Second || d > 60*time.Second {
			t.Fatalf("Draw() = %v, want within [30s, 60s]", d)
		}
	}
}

func TestGateDrawDegenerateRange(t *testing.T) {
	t.Parallel()
	g := NewGate(45*time.Second, 45*time.Second)
	for i := 0; i < 10; i++ {
		if d := g.Draw(); d != 45*time.Second {
			t.Fatalf("Draw() = %v, want 45s for min==max", d)
		}
	}
}

func TestGateSetBounds(t *testing.T) {
	t.Parallel()
	g := NewGate(30*time.Second, 60*time.Second)
	g.SetBounds(1*time.Second, 2*time.Second)
	min, max := g.Bounds()
	if min != 1*time.Second || max != 2*time.Second {
		t.Fatalf("Bounds() = %v, %v after SetBounds", min, max)
	}
	for i := 0; i < 50; i++ {
		if d := g.Draw(); d < 1*time.Second || d > 2*time.Second {
			t.Fatalf("Draw() = %v, want within updated bounds", d)
		}
	}
}

func TestEligibleAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		snap   Snapshot
		wantAt time.Time
		wantOK bool
	}{
		{
			name:   "fresh active account is eligible immediately",
			snap:   Snapshot{Status: StatusActive},
			wantAt: now,
			wantOK: true,
		},
		{
			name:   "active account waits out its interval",
			snap:   Snapshot{Status: StatusActive, NextAllowedAt: now.Add(40 * time.Second)},
			wantAt: now.Add(40 * time.Second),
			wantOK: true,
		},
		{
			name:   "cooling account is eligible at recovery",
			snap:   Snapshot{Status: StatusCoolingDown, RecoverAt: now.Add(10 * time.Minute)},
			wantAt: now.Add(10 * time.Minute),
			wantOK: true,
		},
		{
			name:   "limited account waits for midnight",
			snap:   Snapshot{Status: StatusLimited},
			wantAt: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "at quota counts as limited",
			snap:   Snapshot{Status: StatusActive, DailySent: 40, DailyLimit: 40},
			wantAt: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "banned account is never eligible",
			snap:   Snapshot{Status: StatusBanned},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			at, ok := EligibleAt(tt.snap, now, time.UTC)
			if ok != tt.wantOK {
				t.Fatalf("EligibleAt ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !at.Equal(tt.wantAt) {
				t.Fatalf("EligibleAt = %v, want %v", at, tt.wantAt)
			}
		})
	}
}

func TestNextReset(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, loc)
	got := NextReset(now, loc)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextReset = %v, want %v", got, want)
	}
}
