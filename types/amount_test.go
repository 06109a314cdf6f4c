package types

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestAmountArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() (Amount, error)
		expected string
	}{
		{"Add", func() (Amount, error) { return NewAmount(100).Add(NewAmount(200)) }, "300"},
		{"Sub", func() (Amount, error) { return NewAmount(500).Sub(NewAmount(200)) }, "300"},
		{"Mul", func() (Amount, error) { return NewAmount(100).Mul(NewAmount(3)) }, "300"},
		{"Bps truncates", func() (Amount, error) { return NewAmount(10001).Bps(6000) }, "6000"},
		{"Bps full", func() (Amount, error) { return NewAmount(10000).Bps(10000) }, "10000"},
		{"MulDiv", func() (Amount, error) { return NewAmount(7).MulDiv(3, 2) }, "10"},
		{"Wei scale", func() (Amount, error) { return Pow10(18).Mul(NewAmount(5)) }, "5000000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.expected {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestAmountRangeErrors(t *testing.T) {
	maxAmount := MustParseAmount(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)).String())

	if _, err := maxAmount.Add(NewAmount(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("Add: expected ErrOverflow, got %v", err)
	}
	if _, err := maxAmount.Mul(NewAmount(2)); !errors.Is(err, ErrOverflow) {
		t.Errorf("Mul: expected ErrOverflow, got %v", err)
	}
	if _, err := NewAmount(1).Sub(NewAmount(2)); !errors.Is(err, ErrUnderflow) {
		t.Errorf("Sub: expected ErrUnderflow, got %v", err)
	}
	if _, err := AmountFromBig(new(big.Int).Lsh(big.NewInt(1), 256)); !errors.Is(err, ErrOverflow) {
		t.Errorf("AmountFromBig: expected ErrOverflow, got %v", err)
	}
	if _, err := AmountFromBig(big.NewInt(-1)); !errors.Is(err, ErrUnderflow) {
		t.Errorf("AmountFromBig: expected ErrUnderflow, got %v", err)
	}

	// The intermediate product exceeds 256 bits but the result fits.
	got, err := maxAmount.MulDiv(6000, 10000)
	if err != nil {
		t.Fatalf("MulDiv: unexpected error: %v", err)
	}
	if !got.LessThan(maxAmount) {
		t.Errorf("MulDiv: expected result below max, got %s", got)
	}
}

func TestAmountComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Amount
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", NewAmount(100), NewAmount(100), false, false, true},
		{"Less", NewAmount(50), NewAmount(100), true, false, false},
		{"Greater", NewAmount(200), NewAmount(100), false, true, false},
		{"Zero equal", NewAmount(0), Zero(), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestAmountFormat(t *testing.T) {
	tests := []struct {
		name     string
		amount   Amount
		currency string
		want     string
	}{
		{"one ether", Pow10(18), "eth", "1 ETH"},
		{"fractional", MustParseAmount("1500000000000000000"), "", "1.5"},
		{"usdc", NewAmount(2500001), "usdc", "2.500001 USDC"},
		{"cents", NewAmount(4900), "usd", "49 USD"},
		{"cents fraction", NewAmount(4950), "usd", "49.5 USD"},
		{"yen", NewAmount(100), "jpy", "100 JPY"},
		{"sub-unit", NewAmount(1), "eth", "0.000000000000000001 ETH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.amount, tt.currency); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAmountEncoding(t *testing.T) {
	large := MustParseAmount(strings.Repeat("9", 40))

	data, err := json.Marshal(struct {
		Value Amount `json:"value"`
	}{large})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if want := `{"value":"` + strings.Repeat("9", 40) + `"}`; string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var scanned Amount
	if err := scanned.Scan([]byte("12345")); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !scanned.Equal(NewAmount(12345)) {
		t.Errorf("got %s, want 12345", scanned)
	}
	if err := scanned.Scan(int64(-1)); err == nil {
		t.Error("expected error scanning a negative integer")
	}
	if _, err := ParseAmount("-5"); err == nil {
		t.Error("expected error parsing a negative string")
	}
}

func TestSum(t *testing.T) {
	total, err := Sum(NewAmount(50), NewAmount(30), NewAmount(21))
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if !total.Equal(NewAmount(101)) {
		t.Errorf("got %s, want 101", total)
	}
}
