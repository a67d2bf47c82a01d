package units

import (
	"math/big"
	"testing"
)

func TestParseEther(t *testing.T) {
	cases := map[string]string{
		"1":                    "1000000000000000000",
		"0.5":                  "500000000000000000",
		".25":                  "250000000000000000",
		"2.":                   "2000000000000000000",
		"0":                    "0",
		"0.000000000000000001": "1",
		" 3 ":                  "3000000000000000000",
	}
	for in, want := range cases {
		got, err := ParseEther(in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("ParseEther(%q)=%s want %s", in, got, want)
		}
	}
}

func TestParseEtherRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1e18", "1.2.3", "0.0000000000000000001"} {
		if _, err := ParseEther(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatEther(big.NewInt(0)); got != "0" {
		t.Fatalf("got %s", got)
	}
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FormatEther(v); got != "1.5" {
		t.Fatalf("got %s", got)
	}
	if got := FormatEther(big.NewInt(1)); got != "0.000000000000000001" {
		t.Fatalf("got %s", got)
	}
	if got := FormatUnits(big.NewInt(-1234), 2); got != "-12.34" {
		t.Fatalf("got %s", got)
	}
	if got := FormatUnits(big.NewInt(42), 0); got != "42" {
		t.Fatalf("got %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, in := range []string{"1", "0.1", "123.456"} {
		v, err := ParseEther(in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", in, err)
		}
		if got := FormatEther(v); got != in {
			t.Fatalf("round trip %q -> %q", in, got)
		}
	}
}
