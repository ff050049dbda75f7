package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		want     Outcome
		wantHint time.Duration
	}{
		{name: "nil is success", err: nil, want: OutcomeSuccess},
		{name: "unreachable is permanent", err: ErrTargetUnreachable, want: OutcomePermanent},
		{
			name: "wrapped unreachable",
			err:  fmt.Errorf("send to @x: %w", ErrTargetUnreachable),
			want: OutcomePermanent,
		},
		{name: "restricted", err: ErrAccountRestricted, want: OutcomeRestricted},
		{
			name:     "flood carries the wait hint",
			err:      &FloodError{RetryAfter: 42 * time.Second, Err: errors.New("429")},
			want:     OutcomeTransient,
			wantHint: 42 * time.Second,
		},
		{name: "unknown errors default to transient", err: errors.New("eof"), want: OutcomeTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, hint := Classify(tt.err)
			if got != tt.want || hint != tt.wantHint {
				t.Fatalf("Classify(%v) = %s, %v; want %s, %v", tt.err, got, hint, tt.want, tt.wantHint)
			}
		})
	}
}

func TestTargetKey(t *testing.T) {
	t.Parallel()
	if k := (Target{Handle: "Alice_99"}).Key(); k != "alice_99" {
		t.Fatalf("handle key = %q", k)
	}
	if k := (Target{UserID: 42}).Key(); k != "id:42" {
		t.Fatalf("numeric key = %q", k)
	}
}
