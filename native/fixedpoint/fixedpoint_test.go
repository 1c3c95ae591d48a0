package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func mustMulDiv(t *testing.T, a, b, d *uint256.Int, rounding Rounding) *uint256.Int {
	t.Helper()
	got, err := MulDiv(a, b, d, rounding)
	if err != nil {
		t.Fatalf("muldiv(%s, %s, %s, %s): %v", a, b, d, rounding, err)
	}
	return got
}

func TestMulDivRounding(t *testing.T) {
	cases := []struct {
		name     string
		a, b, d  uint64
		rounding Rounding
		want     uint64
	}{
		{"exact", 10, 10, 5, Down, 20},
		{"floor", 10, 1, 3, Down, 3},
		{"ceil", 10, 1, 3, Up, 4},
		{"ceil exact", 9, 1, 3, Up, 3},
		{"nearest below half", 10, 1, 3, Nearest, 3},
		{"nearest half", 5, 1, 2, Nearest, 3},
		{"nearest above half", 11, 1, 4, Nearest, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mustMulDiv(t, New(tc.a), New(tc.b), New(tc.d), tc.rounding)
			if got.Uint64() != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got.Uint64())
			}
		})
	}
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	maxInt := new(uint256.Int).SetAllOne()
	// max*max/max fits even though max*max does not.
	if got := mustMulDiv(t, maxInt, maxInt, maxInt, Down); !got.Eq(maxInt) {
		t.Fatalf("expected max, got %s", got)
	}
	if _, err := MulDiv(maxInt, New(2), New(1), Down); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := MulDiv(maxInt, New(3), New(2), Up); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow rounding up, got %v", err)
	}
}

func TestMulDivDivisionByZero(t *testing.T) {
	if _, err := MulDiv(New(1), New(1), Zero(), Down); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDiv(New(1), New(1), nil, Down); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero for nil, got %v", err)
	}
}

func TestMulDivDoesNotMutateInputs(t *testing.T) {
	a, b, d := New(7), New(3), New(2)
	mustMulDiv(t, a, b, d, Up)
	if a.Uint64() != 7 || b.Uint64() != 3 || d.Uint64() != 2 {
		t.Fatalf("inputs mutated: %s %s %s", a, b, d)
	}
}

func TestCeilDiv(t *testing.T) {
	for _, tc := range []struct{ a, b, want uint64 }{{7, 2, 4}, {8, 2, 4}} {
		got, err := CeilDiv(New(tc.a), New(tc.b))
		if err != nil {
			t.Fatalf("ceildiv %d/%d: %v", tc.a, tc.b, err)
		}
		if got.Uint64() != tc.want {
			t.Fatalf("ceildiv %d/%d: expected %d, got %d", tc.a, tc.b, tc.want, got.Uint64())
		}
	}
	if _, err := CeilDiv(New(1), Zero()); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestCompanions(t *testing.T) {
	if Min(New(3), New(9)).Uint64() != 3 || Max(New(3), New(9)).Uint64() != 9 {
		t.Fatalf("min/max mismatch")
	}
	if !SubFloor(New(3), New(9)).IsZero() || SubFloor(New(9), New(3)).Uint64() != 6 {
		t.Fatalf("subfloor mismatch")
	}

	maxInt := new(uint256.Int).SetAllOne()
	if !Average(maxInt, maxInt).Eq(maxInt) {
		t.Fatalf("average of max must not overflow")
	}
	if got := Average(New(4), New(7)).Uint64(); got != 5 {
		t.Fatalf("expected average 5, got %d", got)
	}
	if _, err := Add(maxInt, New(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if _, err := Mul(maxInt, New(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected mul overflow, got %v", err)
	}
}

func TestPercent(t *testing.T) {
	if s := Percent(300).String(); s != "30.0%" {
		t.Fatalf("unexpected rendering %q", s)
	}
	if s := OneHundredPercent.String(); s != "100.0%" {
		t.Fatalf("unexpected rendering %q", s)
	}
	if PercentOf(10) != Percent(100) {
		t.Fatalf("PercentOf(10) = %d", PercentOf(10))
	}
	if !OneHundredPercent.Valid() || Percent(1001).Valid() {
		t.Fatalf("validity bounds wrong")
	}

	fee, err := PercentOf(10).Apply(New(1_005), Down)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if fee.Uint64() != 100 {
		t.Fatalf("expected fee 100, got %d", fee.Uint64())
	}

	ratio, err := Ratio(New(200), New(2_000))
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio != PercentOf(10) {
		t.Fatalf("expected 10%%, got %s", ratio)
	}
	ratio, err = Ratio(New(1), Zero())
	if err != nil {
		t.Fatalf("ratio of zero whole: %v", err)
	}
	if ratio != ZeroPercent {
		t.Fatalf("expected zero ratio, got %s", ratio)
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(New(1_500_000), 6); got != "1.5" {
		t.Fatalf("expected 1.5, got %q", got)
	}
	if got := FormatUnits(nil, 6); got != "0" {
		t.Fatalf("expected 0, got %q", got)
	}
}

func TestParsePercent(t *testing.T) {
	for in, want := range map[string]Percent{"12.5": 125, "100": OneHundredPercent} {
		p, err := ParsePercent(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if p != want {
			t.Fatalf("parse %q: expected %d, got %d", in, want, p)
		}
	}
	for _, in := range []string{"", "abc", "-1", "1.25"} {
		if _, err := ParsePercent(in); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("parse %q: expected ErrInvalidNumber, got %v", in, err)
		}
	}
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 6)
	if err != nil || v.Uint64() != 1_500_000 {
		t.Fatalf("parse 1.5: %v %v", v, err)
	}
	v, err = ParseUnits("100", 0)
	if err != nil || v.Uint64() != 100 {
		t.Fatalf("parse 100: %v %v", v, err)
	}

	if _, err := ParseUnits("0.0000001", 6); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber for excess precision, got %v", err)
	}
	if _, err := ParseUnits("-3", 6); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber for negative, got %v", err)
	}
	if _, err := ParseUnits("1e80", 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
