package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"12.345", 1235, true},
		{"12.344", 1234, true},
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1e3", 0, false},
		{"0", 0, false},
		{"0.001", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{".", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("%q expected validation error, got %v", tc.in, err)
			}
		}
	}
}

func TestParseMoney_AllowsZero(t *testing.T) {
	m, err := ParseMoney("0")
	if err != nil || !m.IsZero() {
		t.Fatalf("expected zero, got %v (err=%v)", m, err)
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		5:     "0.05",
		7000:  "70.00",
		-1250: "-12.50",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("%d: got %q, want %q", cents, got, want)
		}
	}
}

func TestMoneyDivRound(t *testing.T) {
	cases := []struct {
		total int64
		n     int64
		want  int64
	}{
		{1000, 3, 333},
		{2000, 3, 667},
		{100, 0, 0},
		{4100, 2, 2050},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.total}).DivRound(tc.n); got.Cents != tc.want {
			t.Fatalf("%d/%d = %d, want %d", tc.total, tc.n, got.Cents, tc.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money{Cents: 1234})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "12.34" {
		t.Fatalf("marshal = %s", b)
	}

	for _, in := range []string{`12.34`, `"12.34"`, `12.344`} {
		var m Money
		if err := json.Unmarshal([]byte(in), &m); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if m.Cents != 1234 {
			t.Fatalf("%s: got %d", in, m.Cents)
		}
	}

	var m Money
	if err := json.Unmarshal([]byte(`"abc"`), &m); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}

func TestFromFloat(t *testing.T) {
	m, err := FromFloat(19.99)
	if err != nil || m.Cents != 1999 {
		t.Fatalf("got %d (err=%v)", m.Cents, err)
	}
}
