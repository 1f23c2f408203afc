package math_test

import (
	fpmath "PerpDesk/internal/math"
	"errors"
	"testing"
)

func TestParseTruncates(t *testing.T) {
	a, err := fpmath.Parse("1.239", 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Int64() != 123 {
		t.Errorf("raw: got %d, want 123", a.Int64())
	}

	neg := fpmath.MustParse("-1.239", 2)
	if neg.Int64() != -123 {
		t.Errorf("negative raw: got %d, want -123", neg.Int64())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := fpmath.Parse("12abc", 18)
	if !errors.Is(err, fpmath.ErrInvalidDecimal) {
		t.Errorf("got %v, want ErrInvalidDecimal", err)
	}
	if _, err := fpmath.ParseRaw("0x10", 0); !errors.Is(err, fpmath.ErrInvalidDecimal) {
		t.Errorf("raw: got %v, want ErrInvalidDecimal", err)
	}
}

func TestUndefinedPropagates(t *testing.T) {
	var undefined fpmath.Amount
	one := fpmath.USD(1)

	if undefined.IsSet() {
		t.Fatal("zero value must be undefined")
	}
	if one.Add(undefined).IsSet() {
		t.Error("Add with undefined operand must stay undefined")
	}
	if one.MulDiv(undefined, one).IsSet() {
		t.Error("MulDiv with undefined operand must stay undefined")
	}
	if one.MulDiv(one, fpmath.Zero(30)).IsSet() {
		t.Error("MulDiv by zero must be undefined")
	}
	if undefined.String() != "undefined" {
		t.Errorf("String: got %s", undefined.String())
	}
}

func TestMulDivTruncatesTowardZero(t *testing.T) {
	a := fpmath.FromInt64(-7, 0)
	got := a.MulDiv(fpmath.FromInt64(1, 0), fpmath.FromInt64(2, 0))
	if got.Int64() != -3 {
		t.Errorf("got %d, want -3", got.Int64())
	}
}

func TestMulDivExponent(t *testing.T) {
	size := fpmath.USD(1000)
	lev := size.MulDiv(fpmath.BasisPointsDivisor, fpmath.USD(100))
	if lev.Exp() != fpmath.BasisPointsDecimals {
		t.Fatalf("exp: got %d, want %d", lev.Exp(), fpmath.BasisPointsDecimals)
	}
	if lev.Int64() != 100_000 {
		t.Errorf("leverage: got %d, want 100000", lev.Int64())
	}
}

func TestMismatchedExponentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on exponent mismatch")
		}
	}()
	fpmath.USD(1).Add(fpmath.BPS(1))
}

func TestRescale(t *testing.T) {
	a := fpmath.MustParse("1.999", 3)
	if got := a.Rescale(1).Int64(); got != 19 {
		t.Errorf("down: got %d, want 19", got)
	}
	if got := a.Rescale(5).Int64(); got != 199_900 {
		t.Errorf("up: got %d, want 199900", got)
	}
}

func TestFormat(t *testing.T) {
	a := fpmath.MustParse("1234.5678", 30)
	if got := a.Format(2); got != "1234.56" {
		t.Errorf("got %s, want 1234.56", got)
	}
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"1234.5678"` {
		t.Errorf("json: got %s", b)
	}
}
