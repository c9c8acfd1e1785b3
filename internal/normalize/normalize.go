// Package normalize converts raw dashboard text into typed values.
//
// Every parser returns an explicit "ok" flag (or an absent Value) instead of an
// error: text that does not fit the grammar is simply absent. None of the
// functions keep state, so repeated calls on the same input return the same
// result.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Format names the grammar used to normalize one field or column.
type Format string

const (
	// FormatAuto picks magnitude or percentage from the field name and text.
	FormatAuto       Format = "auto"
	FormatMagnitude  Format = "magnitude"
	FormatInteger    Format = "integer"
	FormatPercentage Format = "percentage"
	FormatDate       Format = "date"
	FormatBTC        Format = "btc"
	// FormatAmount keeps the amount half of "$1.72B (7.43%)".
	FormatAmount Format = "amount"
	// FormatAmountPercent keeps the percentage half of "$1.72B (7.43%)".
	FormatAmountPercent Format = "amount_pct"
	FormatPair          Format = "pair"
	FormatText          Format = "text"
)

var formats = map[Format]struct{}{
	FormatAuto: {}, FormatMagnitude: {}, FormatInteger: {}, FormatPercentage: {},
	FormatDate: {}, FormatBTC: {}, FormatAmount: {}, FormatAmountPercent: {},
	FormatPair: {}, FormatText: {},
}

// ParseFormat validates s. The empty string means FormatAuto.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatAuto, nil
	}
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("unknown value format %q", s)
	}
	return f, nil
}

// Resolve turns FormatAuto into a concrete format using the field name and the
// matched text: names mentioning PRICE or USD are currency amounts, text with a
// percent sign is a percentage, anything else is a plain magnitude.
func Resolve(f Format, name, text string) Format {
	if f != FormatAuto && f != "" {
		return f
	}
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "PRICE"), strings.Contains(upper, "USD"):
		return FormatMagnitude
	case strings.Contains(text, "%"):
		return FormatPercentage
	default:
		return FormatMagnitude
	}
}

// Normalize applies the grammar named by f to text. FormatAuto falls back to
// magnitude; callers that know the field name should Resolve first.
func Normalize(f Format, text string) Value {
	switch f {
	case FormatInteger:
		return IntValue(ParseInteger(text))
	case FormatPercentage:
		return FloatValue(ParsePercentage(text))
	case FormatDate:
		return DateValue(ParseDate(text))
	case FormatBTC:
		return FloatValue(ParseBTCAmount(text))
	case FormatAmount:
		p := ParseAmountWithPercentage(text)
		return FloatValue(p.Amount, p.HasAmount)
	case FormatAmountPercent:
		p := ParseAmountWithPercentage(text)
		return FloatValue(p.Percent, p.HasPercent)
	case FormatPair:
		return PairValue(ParseAmountWithPercentage(text))
	case FormatText:
		return TextValue(strings.TrimSpace(text))
	default:
		return FloatValue(ParseMagnitude(text))
	}
}

var currencyReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "")

// ParseMagnitude reads a number with optional currency symbol, thousands
// separators, percent sign and unit suffix.
//
// Suffixes are checked in the order T, B, M, K and the first one present wins;
// T and B are ignored when the text mentions "BTC" so "1,036,543.54 BTC" is not
// read as billions. The "EH/s" hashrate unit is dropped. Anything else that is
// not a digit, dot or minus sign is discarded before conversion.
func ParseMagnitude(text string) (float64, bool) {
	s := strings.TrimSpace(norm.NFKC.String(text))
	if s == "" {
		return 0, false
	}

	s = currencyReplacer.Replace(s)
	s = strings.ReplaceAll(s, "%", "")

	multiplier := 1.0
	hasBTC := strings.Contains(s, "BTC")
	switch {
	case strings.Contains(s, "T") && !hasBTC:
		multiplier = 1e12
		s = strings.ReplaceAll(s, "T", "")
	case strings.Contains(s, "B") && !hasBTC:
		multiplier = 1e9
		s = strings.ReplaceAll(s, "B", "")
	case strings.Contains(s, "M"):
		multiplier = 1e6
		s = strings.ReplaceAll(s, "M", "")
	case strings.Contains(s, "K"):
		multiplier = 1e3
		s = strings.ReplaceAll(s, "K", "")
	}

	s = strings.ReplaceAll(s, "EH/s", "")
	s = keepNumeric(s)
	if s == "" || s == "." {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * multiplier, true
}

func keepNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseInteger is ParseMagnitude truncated toward zero.
func ParseInteger(text string) (int64, bool) {
	f, ok := ParseMagnitude(text)
	if !ok {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

// ParsePercentage returns the unsigned magnitude of a percentage.
// "+1.56%" and "-1.56%" both yield 1.56.
func ParsePercentage(text string) (float64, bool) {
	f, ok := ParseMagnitude(text)
	if !ok {
		return 0, false
	}
	return math.Abs(f), true
}

// ParseBTCAmount reads amounts such as "1,036,543.54 BTC".
func ParseBTCAmount(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	return ParseMagnitude(strings.TrimSpace(strings.ReplaceAll(text, "BTC", "")))
}

var (
	amountRe  = regexp.MustCompile(`[\$€£¥]?[\d,.]+(B|M|K|T)?`)
	percentRe = regexp.MustCompile(`\(([\d.]+)%\)`)
)

// ParseAmountWithPercentage splits strings like "$1.72B (7.43%)" into the
// amount and the parenthesized percentage. The two searches are independent.
func ParseAmountWithPercentage(text string) AmountPercent {
	var out AmountPercent
	if text == "" {
		return out
	}
	if m := amountRe.FindString(text); m != "" {
		out.Amount, out.HasAmount = ParseMagnitude(m)
	}
	if sm := percentRe.FindStringSubmatch(text); len(sm) > 1 {
		if f, err := strconv.ParseFloat(sm[1], 64); err == nil {
			out.Percent, out.HasPercent = f, true
		}
	}
	return out
}
