package amount

import (
	"math/big"
	"testing"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return n
}

func TestToMinor(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "price at 18 decimals", in: "10.5", decimals: 18, want: "10500000000000000000"},
		{name: "whole number", in: "3", decimals: 18, want: "3000000000000000000"},
		{name: "zero", in: "0", decimals: 18, want: "0"},
		{name: "full precision", in: "0.000000000000000001", decimals: 18, want: "1"},
		{name: "six decimals token", in: "12.25", decimals: 6, want: "12250000"},
		{name: "negative rejected", in: "-1", decimals: 18, wantErr: true},
		{name: "too many fractional digits", in: "1.0000000000000000001", decimals: 18, wantErr: true},
		{name: "excess zeros rejected", in: "1.1000", decimals: 2, wantErr: true},
		{name: "not a number", in: "ten", decimals: 18, wantErr: true},
		{name: "empty", in: "", decimals: 18, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinor(tt.in, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ToMinor(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToMinor(%q) unexpected error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ToMinor(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromMinor(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals int32
		want     string
	}{
		{name: "trailing zeros trimmed", in: "10500000000000000000", decimals: 18, want: "10.5"},
		{name: "whole number", in: "3000000000000000000", decimals: 18, want: "3"},
		{name: "smallest unit", in: "1", decimals: 18, want: "0.000000000000000001"},
		{name: "zero", in: "0", decimals: 18, want: "0"},
		{name: "six decimals", in: "12250000", decimals: 6, want: "12.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMinor(mustBig(t, tt.in), tt.decimals)
			if err != nil {
				t.Fatalf("FromMinor(%s) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("FromMinor(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if _, err := FromMinor(big.NewInt(-1), 18); err == nil {
		t.Error("FromMinor(-1) should fail")
	}
	if _, err := FromMinor(nil, 18); err == nil {
		t.Error("FromMinor(nil) should fail")
	}
}

func TestRoundTrip(t *testing.T) {
	// Canonical decimal strings must survive a full conversion cycle.
	inputs := []string{"10.5", "0", "1", "0.1", "0.000000000000000001", "123456789.987654321", "42.000000000000000042"}
	for _, in := range inputs {
		minor, err := ToMinor(in, 18)
		if err != nil {
			t.Fatalf("ToMinor(%q): %v", in, err)
		}
		back, err := FromMinor(minor, 18)
		if err != nil {
			t.Fatalf("FromMinor(%s): %v", minor, err)
		}
		if back != in {
			t.Errorf("round trip of %q gave %q", in, back)
		}
	}
}

func TestEqualMinor(t *testing.T) {
	a := mustBig(t, "10500000000000000000")
	b := mustBig(t, "10500000000000000000")
	c := mustBig(t, "10499999999999999999")

	if !EqualMinor(a, b) {
		t.Error("equal amounts reported unequal")
	}
	if EqualMinor(a, c) {
		t.Error("amounts differing by one wei reported equal")
	}
	if EqualMinor(a, nil) || EqualMinor(nil, a) {
		t.Error("nil must never compare equal")
	}
}
