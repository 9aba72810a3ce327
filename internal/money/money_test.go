package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Rounding ---

func TestRound_HalfAwayFromZero(t *testing.T) {
	if got := Round(d("10.005")); !got.Equal(d("10.01")) {
		t.Errorf("expected 10.01, got %s", got)
	}
	if got := Round(d("10.004")); !got.Equal(d("10.00")) {
		t.Errorf("expected 10.00, got %s", got)
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(d("301.00")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateAmount(d("0")); err != ErrNotPositive {
		t.Errorf("expected ErrNotPositive for 0, got %v", err)
	}
	if err := ValidateAmount(d("-5")); err != ErrNotPositive {
		t.Errorf("expected ErrNotPositive for -5, got %v", err)
	}
	if err := ValidateAmount(d("1.001")); err != ErrTooPrecise {
		t.Errorf("expected ErrTooPrecise for 1.001, got %v", err)
	}
}

func TestValidateRate(t *testing.T) {
	for _, r := range []string{"0", "0.05", "0.999"} {
		if err := ValidateRate(d(r)); err != nil {
			t.Errorf("rate %s: unexpected error %v", r, err)
		}
	}
	for _, r := range []string{"-0.01", "1", "1.5"} {
		if err := ValidateRate(d(r)); err != ErrInvalidRate {
			t.Errorf("rate %s: expected ErrInvalidRate, got %v", r, err)
		}
	}
}

// --- Commission split ---

func TestSplitCommission_FivePercent(t *testing.T) {
	s, err := SplitCommission(d("1000.00"), d("0.05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Commission.Equal(d("50.00")) {
		t.Errorf("expected commission 50.00, got %s", s.Commission)
	}
	if !s.SellerShare.Equal(d("950.00")) {
		t.Errorf("expected seller share 950.00, got %s", s.SellerShare)
	}
}

func TestSplitCommission_RoundsCommission(t *testing.T) {
	// 333.33 × 0.05 = 16.6665 → 16.67
	s, err := SplitCommission(d("333.33"), d("0.05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Commission.Equal(d("16.67")) {
		t.Errorf("expected commission 16.67, got %s", s.Commission)
	}
	if !s.SellerShare.Equal(d("316.66")) {
		t.Errorf("expected seller share 316.66, got %s", s.SellerShare)
	}
}

func TestSplitCommission_LegsSumToFinal(t *testing.T) {
	finals := []string{"0.01", "1.99", "301.00", "777.77", "123456.78"}
	rates := []string{"0", "0.033", "0.05", "0.125", "0.5"}
	for _, f := range finals {
		for _, r := range rates {
			s, err := SplitCommission(d(f), d(r))
			if err != nil {
				t.Fatalf("final=%s rate=%s: %v", f, r, err)
			}
			if !s.Commission.Add(s.SellerShare).Equal(d(f)) {
				t.Errorf("final=%s rate=%s: legs %s + %s do not sum to final",
					f, r, s.Commission, s.SellerShare)
			}
			if s.Commission.Exponent() < -Scale || s.SellerShare.Exponent() < -Scale {
				t.Errorf("final=%s rate=%s: unrounded leg", f, r)
			}
		}
	}
}

func TestSplitCommission_InvalidRate(t *testing.T) {
	if _, err := SplitCommission(d("100"), d("1")); err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

// --- Owed ---

func TestOwed(t *testing.T) {
	tests := []struct {
		final, held, want string
	}{
		{"300.00", "75.00", "225.00"},
		{"300.00", "0", "300.00"},
		{"50.00", "75.00", "0"},
		{"75.00", "75.00", "0"},
	}
	for _, tt := range tests {
		if got := Owed(d(tt.final), d(tt.held)); !got.Equal(d(tt.want)) {
			t.Errorf("Owed(%s, %s) = %s, want %s", tt.final, tt.held, got, tt.want)
		}
	}
}

// --- Deposit ---

func TestDeriveDeposit_QuarterOfStart(t *testing.T) {
	dep, err := DeriveDeposit(d("300.00"), d("0.25"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dep.Equal(d("75.00")) {
		t.Errorf("expected 75.00, got %s", dep)
	}
}

func TestDeriveDeposit_Rounds(t *testing.T) {
	dep, _ := DeriveDeposit(d("10.01"), d("0.25"))
	if !dep.Equal(d("2.50")) {
		t.Errorf("expected 2.50, got %s", dep)
	}
}

func TestSum(t *testing.T) {
	if !Sum().IsZero() {
		t.Error("empty sum should be zero")
	}
	if got := Sum(d("1.10"), d("2.20"), d("-0.30")); !got.Equal(d("3.00")) {
		t.Errorf("expected 3.00, got %s", got)
	}
}
