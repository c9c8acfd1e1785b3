package normalize

import (
	"strconv"
	"time"
)

// Kind identifies which member of Value is populated.
type Kind uint8

const (
	// Absent is the zero Kind: the field was not found or did not parse.
	Absent Kind = iota
	Float
	Integer
	Date
	Pair
	Text
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Float:
		return "float"
	case Integer:
		return "integer"
	case Date:
		return "date"
	case Pair:
		return "pair"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// AmountPercent is the result of ParseAmountWithPercentage. Either half may be
// absent independently of the other.
type AmountPercent struct {
	Amount     float64
	HasAmount  bool
	Percent    float64
	HasPercent bool
}

// Value is a normalized field value. The zero Value is absent.
type Value struct {
	Kind Kind

	F float64
	I int64
	D time.Time
	P AmountPercent
	S string
}

// FloatValue wraps (f, ok) as returned by the Parse* helpers.
func FloatValue(f float64, ok bool) Value {
	if !ok {
		return Value{}
	}
	return Value{Kind: Float, F: f}
}

// IntValue wraps (i, ok).
func IntValue(i int64, ok bool) Value {
	if !ok {
		return Value{}
	}
	return Value{Kind: Integer, I: i}
}

// DateValue wraps (d, ok).
func DateValue(d time.Time, ok bool) Value {
	if !ok {
		return Value{}
	}
	return Value{Kind: Date, D: d}
}

// PairValue wraps an AmountPercent. A pair with both halves missing is absent.
func PairValue(p AmountPercent) Value {
	if !p.HasAmount && !p.HasPercent {
		return Value{}
	}
	return Value{Kind: Pair, P: p}
}

// TextValue keeps s verbatim; the empty string is absent.
func TextValue(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: Text, S: s}
}

// IsAbsent reports whether v carries no value.
func (v Value) IsAbsent() bool { return v.Kind == Absent }

// String renders v for flat files. Absent renders as "".
// Dates use ISO calendar form; pairs render as "amount|percent".
func (v Value) String() string {
	switch v.Kind {
	case Float:
		return strconv.FormatFloat(v.F, 'f', -1, 64)
	case Integer:
		return strconv.FormatInt(v.I, 10)
	case Date:
		return v.D.Format(DateLayout)
	case Pair:
		var a, p string
		if v.P.HasAmount {
			a = strconv.FormatFloat(v.P.Amount, 'f', -1, 64)
		}
		if v.P.HasPercent {
			p = strconv.FormatFloat(v.P.Percent, 'f', -1, 64)
		}
		return a + "|" + p
	case Text:
		return v.S
	default:
		return ""
	}
}

// Any returns a database/sql friendly value: nil for absent, float64, int64,
// time.Time or string.
func (v Value) Any() any {
	switch v.Kind {
	case Float:
		return v.F
	case Integer:
		return v.I
	case Date:
		return v.D
	case Pair, Text:
		return v.String()
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Absent:
		return true
	case Float:
		return v.F == o.F
	case Integer:
		return v.I == o.I
	case Date:
		return v.D.Equal(o.D)
	case Pair:
		return v.P == o.P
	case Text:
		return v.S == o.S
	default:
		return false
	}
}
