package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyAddSub(t *testing.T) {
	a := FromInt(100, "INR")
	b, err := FromString("20.50", "INR")
	if err != nil {
		t.Fatal(err)
	}

	sum, err := a.Add(b)
	if err != nil {
		t.Fatal(err)
	}
	if sum.String() != "120.5 INR" {
		t.Fatalf("unexpected sum: %s", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatal(err)
	}
	if !diff.Amount.Equal(decimal.RequireFromString("79.5")) {
		t.Fatalf("unexpected diff: %s", diff)
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := FromInt(100, "INR")
	b := FromInt(100, "USD")
	if _, err := a.Add(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestMoneyNegAndZero(t *testing.T) {
	m := FromInt(42, "INR")
	if m.Neg().Amount.Add(m.Amount).Sign() != 0 {
		t.Fatal("neg + original should cancel")
	}
	if !FromInt(0, "INR").IsZero() {
		t.Fatal("zero amount should report IsZero")
	}
	if FromInt(-1, "INR").IsPositive() {
		t.Fatal("negative amount should not report IsPositive")
	}
}

func TestFromStringRejectsGarbage(t *testing.T) {
	if _, err := FromString("12,5", "INR"); err == nil {
		t.Fatal("expected parse error")
	}
}
