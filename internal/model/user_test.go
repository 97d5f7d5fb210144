package model

import "testing"

func TestDeriveMiningRate(t *testing.T) {
	tests := []struct {
		name   string
		base   float64
		active int
		want   float64
	}{
		{"no active referrals", 0.20, 0, 0.20},
		{"one active referral", 0.20, 1, 0.40},
		{"two active referrals", 0.20, 2, 0.60},
		{"three active referrals", 0.20, 3, 0.80},
		{"five active referrals", 0.20, 5, 1.20},
		{"custom base", 0.50, 2, 0.90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveMiningRate(tt.base, tt.active)
			// Exact comparison is the point: the client displays this
			// value and compares it against its own arithmetic.
			if got != tt.want {
				t.Errorf("DeriveMiningRate(%v, %d) = %v, want exactly %v", tt.base, tt.active, got, tt.want)
			}
		})
	}
}

func TestStage(t *testing.T) {
	u := &UserRecord{}
	if u.Stage() != StageNone {
		t.Errorf("Stage() = %v, want StageNone for a fresh record", u.Stage())
	}

	u.NotificationSent1 = true
	if u.Stage() != StageEnded {
		t.Errorf("Stage() = %v, want StageEnded once the flag is set", u.Stage())
	}
}
