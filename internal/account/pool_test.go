package account

import (
	"testing"
	"time"

	"blastbot/internal/transport"
	logx "blastbot/pkg/logx"
)

func testPool(t *testing.T, cfg Config, seeds []Seed) (*Pool, *time.Time) {
	t.Helper()
	p, err := NewPool(cfg, seeds, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return now })
	return p, &now
}

func TestPoolRequiresAccounts(t *testing.T) {
	t.Parallel()
	if _, err := NewPool(Config{}, nil, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for empty seed list")
	}
}

func TestPoolLeaseIsExclusive(t *testing.T) {
	t.Parallel()
	p, _ := testPool(t, Config{}, []Seed{{Handle: "alpha"}})

	l, ok := p.Acquire(nil)
	if !ok {
		t.Fatal("first Acquire failed")
	}
	if _, ok := p.Acquire(nil); ok {
		t.Fatal("second Acquire succeeded while account was leased")
	}
	l.Release(transport.OutcomeSuccess, 0, 0)
	if _, ok := p.Acquire(nil); !ok {
		t.Fatal("Acquire failed after release")
	}
}

func TestPoolLeastRecentlyUsedSelection(t *testing.T) {
	t.Parallel()
	p, now := testPool(t, Config{}, []Seed{
		{Handle: "alpha"}, {Handle: "bravo"}, {Handle: "charlie"},
	})

	// Touch every account once, each at a later instant. Zero interval
	// keeps them all immediately eligible.
	order := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		l, ok := p.Acquire(nil)
		if !ok {
			t.Fatalf("Acquire %d failed", i)
		}
		order = append(order, l.Handle())
		l.Release(transport.OutcomeSuccess, 0, 0)
		*now = now.Add(time.Second)
	}

	// The next three picks must repeat the first pass in the same order:
	// oldest LastSendAt first.
	for i := 0; i < 3; i++ {
		l, ok := p.Acquire(nil)
		if !ok {
			t.Fatalf("second pass Acquire %d failed", i)
		}
		if l.Handle() != order[i] {
			t.Fatalf("pick %d = %s, want %s (least recently used)", i, l.Handle(), order[i])
		}
		l.Release(transport.OutcomeSuccess, 0, 0)
		*now = now.Add(time.Second)
	}
}

func TestPoolAccountSubset(t *testing.T) {
	t.Parallel()
	p, _ := testPool(t, Config{}, []Seed{{Handle: "alpha"}, {Handle: "bravo"}})

	only := map[string]bool{"bravo": true}
	for i := 0; i < 3; i++ {
		l, ok := p.Acquire(only)
		if !ok {
			t.Fatalf("Acquire %d with subset failed", i)
		}
		if l.Handle() != "bravo" {
			t.Fatalf("Acquire = %s, want bravo", l.Handle())
		}
		l.Release(transport.OutcomeSuccess, 0, 0)
	}
}

func TestPoolDailyLimitAndReset(t *testing.T) {
	t.Parallel()
	p, now := testPool(t, Config{DailyLimit: 2}, []Seed{{Handle: "alpha"}})

	for i := 0; i < 2; i++ {
		l, ok := p.Acquire(nil)
		if !ok {
			t.Fatalf("Acquire %d failed", i)
		}
		l.Release(transport.OutcomeSuccess, 0, 0)
	}

	snaps := p.Snapshots()
	if snaps[0].Status != StatusLimited {
		t.Fatalf("status after hitting quota = %s, want limited", snaps[0].Status)
	}
	if _, ok := p.Acquire(nil); ok {
		t.Fatal("Acquire succeeded on a limited account")
	}

	at, any := p.NextEligibleAt(nil)
	wantReset := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !any || !at.Equal(wantReset) {
		t.Fatalf("NextEligibleAt = %v, %v; want %v, true", at, any, wantReset)
	}

	// Crossing the boundary clears the quota and promotes the account,
	// even without the scheduled reset firing.
	*now = time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)
	l, ok := p.Acquire(nil)
	if !ok {
		t.Fatal("Acquire failed after the daily boundary")
	}
	if l.Snapshot().DailySent != 0 {
		t.Fatalf("DailySent after rollover = %d, want 0", l.Snapshot().DailySent)
	}
	l.Release(transport.OutcomeSuccess, 0, 0)
}

func TestPoolCooldownEscalation(t *testing.T) {
	t.Parallel()
	cfg := Config{FailureThreshold: 2, CooldownBase: 5 * time.Minute, CooldownMax: 20 * time.Minute}
	p, now := testPool(t, cfg, []Seed{{Handle: "alpha"}})

	failTwice := func() {
		t.Helper()
		for i := 0; i < 2; i++ {
			l, ok := p.Acquire(nil)
			if !ok {
				t.Fatal("Acquire failed")
			}
			l.Release(transport.OutcomeTransient, 0, 0)
		}
	}

	failTwice()
	snap := p.Snapshots()[0]
	if snap.Status != StatusCoolingDown {
		t.Fatalf("status = %s, want cooling_down after %d failures", snap.Status, cfg.FailureThreshold)
	}
	if want := now.Add(5 * time.Minute); !snap.RecoverAt.Equal(want) {
		t.Fatalf("first RecoverAt = %v, want %v", snap.RecoverAt, want)
	}
	if _, ok := p.Acquire(nil); ok {
		t.Fatal("Acquire succeeded during cooldown")
	}

	// Past the window the account recovers on its own. The second episode
	// doubles the window; the third hits the cap.
	*now = now.Add(5*time.Minute + time.Second)
	failTwice()
	snap = p.Snapshots()[0]
	if want := now.Add(10 * time.Minute); !snap.RecoverAt.Equal(want) {
		t.Fatalf("second RecoverAt = %v, want %v (doubled)", snap.RecoverAt, want)
	}

	*now = now.Add(10*time.Minute + time.Second)
	failTwice()
	snap = p.Snapshots()[0]
	if want := now.Add(20 * time.Minute); !snap.RecoverAt.Equal(want) {
		t.Fatalf("third RecoverAt = %v, want %v (capped)", snap.RecoverAt, want)
	}
}

func TestPoolSuccessClearsFailureStreak(t *testing.T) {
	t.Parallel()
	p, _ := testPool(t, Config{FailureThreshold: 3}, []Seed{{Handle: "alpha"}})

	for _, outcome := range []transport.Outcome{
		transport.OutcomeTransient,
		transport.OutcomeTransient,
		transport.OutcomeSuccess,
		transport.OutcomeTransient,
		transport.OutcomeTransient,
	} {
		l, ok := p.Acquire(nil)
		if !ok {
			t.Fatal("Acquire failed")
		}
		l.Release(outcome, 0, 0)
	}
	if st := p.Snapshots()[0].Status; st != StatusActive {
		t.Fatalf("status = %s, want active (success reset the streak)", st)
	}
}

func TestPoolRestrictedBansAccount(t *testing.T) {
	t.Parallel()
	p, _ := testPool(t, Config{}, []Seed{{Handle: "alpha"}})

	l, _ := p.Acquire(nil)
	l.Release(transport.OutcomeRestricted, 0, 0)

	if st := p.Snapshots()[0].Status; st != StatusBanned {
		t.Fatalf("status = %s, want banned", st)
	}
	if _, any := p.NextEligibleAt(nil); any {
		t.Fatal("NextEligibleAt reported a banned-only pool as sendable")
	}
}

func TestPoolFloodHintDefersAccount(t *testing.T) {
	t.Parallel()
	p, now := testPool(t, Config{FailureThreshold: 5}, []Seed{{Handle: "alpha"}})

	l, _ := p.Acquire(nil)
	l.Release(transport.OutcomeTransient, 90*time.Second, 0)

	if _, ok := p.Acquire(nil); ok {
		t.Fatal("Acquire succeeded inside the flood wait")
	}
	at, any := p.NextEligibleAt(nil)
	if want := now.Add(90 * time.Second); !any || !at.Equal(want) {
		t.Fatalf("NextEligibleAt = %v, %v; want %v, true", at, any, want)
	}

	*now = now.Add(91 * time.Second)
	if _, ok := p.Acquire(nil); !ok {
		t.Fatal("Acquire failed after the flood wait elapsed")
	}
}

func TestPoolReleaseIdempotent(t *testing.T) {
	t.Parallel()
	p, _ := testPool(t, Config{}, []Seed{{Handle: "alpha"}})

	l, _ := p.Acquire(nil)
	l.Release(transport.OutcomeSuccess, 0, 0)
	l.Release(transport.OutcomeSuccess, 0, 0)

	if sent := p.Snapshots()[0].DailySent; sent != 1 {
		t.Fatalf("DailySent = %d after double release, want 1", sent)
	}
}

func TestPoolInterval(t *testing.T) {
	t.Parallel()
	p, now := testPool(t, Config{}, []Seed{{Handle: "alpha"}})

	l, _ := p.Acquire(nil)
	l.Release(transport.OutcomeSuccess, 0, 40*time.Second)

	if _, ok := p.Acquire(nil); ok {
		t.Fatal("Acquire succeeded inside the drawn interval")
	}
	*now = now.Add(41 * time.Second)
	if _, ok := p.Acquire(nil); !ok {
		t.Fatal("Acquire failed after the interval elapsed")
	}
}
