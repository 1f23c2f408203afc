package math

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDecimal   = errors.New("invalid decimal amount")
	ErrExponentMismatch = errors.New("fixed-point exponent mismatch")
)

// Amount is an immutable signed fixed-point number: raw * 10^-exp.
// The zero value is "undefined" and propagates through arithmetic, so a
// missing upstream value surfaces as unknown instead of as zero.
type Amount struct {
	v   *big.Int
	exp int32
}

// scratch ints for MulDiv intermediates
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// New copies raw into an Amount with the given exponent. A nil raw yields an
// undefined Amount.
func New(raw *big.Int, exp int32) Amount {
	if raw == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(raw), exp: exp}
}

func FromInt64(raw int64, exp int32) Amount {
	return Amount{v: big.NewInt(raw), exp: exp}
}

// Units returns n whole units at exponent exp (n * 10^exp raw).
func Units(n int64, exp int32) Amount {
	v := big.NewInt(n)
	v.Mul(v, pow10(exp))
	return Amount{v: v, exp: exp}
}

// Zero is a defined zero at exponent exp.
func Zero(exp int32) Amount {
	return Amount{v: new(big.Int), exp: exp}
}

// One is 1.0 at exponent exp; dividing by One(d) converts a d-decimals
// token amount into whatever unit it was multiplied by.
func One(exp int32) Amount {
	return Units(1, exp)
}

// Parse reads a human decimal string ("1234.5") at exponent exp. Digits
// beyond exp are truncated, never rounded.
func Parse(s string, exp int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w %q: %v", ErrInvalidDecimal, s, err)
	}
	return Amount{v: d.Shift(exp).Truncate(0).BigInt(), exp: exp}, nil
}

func MustParse(s string, exp int32) Amount {
	a, err := Parse(s, exp)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseRaw reads a base-10 raw integer string (as returned by contracts and
// the subgraph) at exponent exp.
func ParseRaw(s string, exp int32) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w %q", ErrInvalidDecimal, s)
	}
	return Amount{v: v, exp: exp}, nil
}

func (a Amount) IsSet() bool { return a.v != nil }

func (a Amount) Exp() int32 { return a.exp }

// Raw returns a copy of the underlying integer, or nil when undefined.
func (a Amount) Raw() *big.Int {
	if a.v == nil {
		return nil
	}
	return new(big.Int).Set(a.v)
}

// Sign is 0 for an undefined Amount.
func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a Amount) IsZero() bool     { return a.Sign() == 0 }
func (a Amount) IsPositive() bool { return a.Sign() > 0 }
func (a Amount) IsNegative() bool { return a.Sign() < 0 }

func (a Amount) mustMatch(b Amount) {
	if a.exp != b.exp {
		panic(fmt.Sprintf("%v: %d vs %d", ErrExponentMismatch, a.exp, b.exp))
	}
}

func (a Amount) Add(b Amount) Amount {
	if a.v == nil || b.v == nil {
		return Amount{}
	}
	a.mustMatch(b)
	return Amount{v: new(big.Int).Add(a.v, b.v), exp: a.exp}
}

func (a Amount) Sub(b Amount) Amount {
	if a.v == nil || b.v == nil {
		return Amount{}
	}
	a.mustMatch(b)
	return Amount{v: new(big.Int).Sub(a.v, b.v), exp: a.exp}
}

func (a Amount) Neg() Amount {
	if a.v == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Neg(a.v), exp: a.exp}
}

func (a Amount) Abs() Amount {
	if a.v == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Abs(a.v), exp: a.exp}
}

// MulInt multiplies by a plain integer, keeping the exponent.
func (a Amount) MulInt(n int64) Amount {
	if a.v == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Mul(a.v, big.NewInt(n)), exp: a.exp}
}

// DivInt divides by a plain integer, truncating toward zero.
func (a Amount) DivInt(n int64) Amount {
	if a.v == nil || n == 0 {
		return Amount{}
	}
	return Amount{v: new(big.Int).Quo(a.v, big.NewInt(n)), exp: a.exp}
}

// MulDiv computes a * mul / div with a single truncation toward zero, the
// way the contracts do. The result exponent is a.exp + mul.exp - div.exp.
// Division by zero yields an undefined Amount.
func (a Amount) MulDiv(mul, div Amount) Amount {
	if a.v == nil || mul.v == nil || div.v == nil || div.v.Sign() == 0 {
		return Amount{}
	}
	tmp := getInt()
	tmp.Mul(a.v, mul.v)
	out := new(big.Int).Quo(tmp, div.v)
	putInt(tmp)
	return Amount{v: out, exp: a.exp + mul.exp - div.exp}
}

// Rescale moves to a different exponent, multiplying before dividing.
func (a Amount) Rescale(exp int32) Amount {
	if a.v == nil {
		return Amount{}
	}
	switch {
	case exp > a.exp:
		return Amount{v: new(big.Int).Mul(a.v, pow10(exp-a.exp)), exp: exp}
	case exp < a.exp:
		return Amount{v: new(big.Int).Quo(a.v, pow10(a.exp-exp)), exp: exp}
	}
	return a
}

// Cmp compares two Amounts of the same exponent. Undefined compares as zero.
func (a Amount) Cmp(b Amount) int {
	if a.v != nil && b.v != nil {
		a.mustMatch(b)
		return a.v.Cmp(b.v)
	}
	return big.NewInt(int64(a.Sign())).Cmp(big.NewInt(int64(b.Sign())))
}

func (a Amount) Eq(b Amount) bool  { return a.Cmp(b) == 0 }
func (a Amount) Gt(b Amount) bool  { return a.Cmp(b) > 0 }
func (a Amount) Gte(b Amount) bool { return a.Cmp(b) >= 0 }
func (a Amount) Lt(b Amount) bool  { return a.Cmp(b) < 0 }
func (a Amount) Lte(b Amount) bool { return a.Cmp(b) <= 0 }

func Max(a, b Amount) Amount {
	if a.Gte(b) {
		return a
	}
	return b
}

func Min(a, b Amount) Amount {
	if a.Lte(b) {
		return a
	}
	return b
}

// Int64 returns the raw integer when it fits, 0 otherwise.
func (a Amount) Int64() int64 {
	if a.v == nil || !a.v.IsInt64() {
		return 0
	}
	return a.v.Int64()
}

func (a Amount) Decimal() decimal.Decimal {
	if a.v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.v, -a.exp)
}

// Format renders the value with exactly places fractional digits, truncated.
func (a Amount) Format(places int32) string {
	if a.v == nil {
		return "..."
	}
	return a.Decimal().Truncate(places).StringFixed(places)
}

func (a Amount) String() string {
	if a.v == nil {
		return "undefined"
	}
	return a.Decimal().String()
}

// MarshalJSON writes the decimal string, or null when undefined.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.v == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + a.Decimal().String() + `"`), nil
}

var pow10Cache sync.Map

func pow10(exp int32) *big.Int {
	if exp < 0 {
		exp = 0
	}
	if v, ok := pow10Cache.Load(exp); ok {
		return v.(*big.Int)
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	pow10Cache.Store(exp, v)
	return v
}
