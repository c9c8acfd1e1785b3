// Package extract applies a rule profile to a parsed page: every field rule
// is located and normalized independently, and every table rule is decoded
// into rows.
//
// Misses are never errors. A field that cannot be located, or whose text does
// not fit its format, is simply absent in the result.
package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"dashetl/internal/locate"
	"dashetl/internal/normalize"
	"dashetl/internal/rules"
)

// Extractor holds an immutable copy of the rules it applies.
type Extractor struct {
	fields []rules.Field
	tables []rules.Table
	log    zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for per-field diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// New builds an Extractor for profile p.
func New(p *rules.Profile, opts ...Option) *Extractor {
	e := &Extractor{
		fields: p.Fields(),
		tables: p.Tables(),
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs ExtractAll and ExtractTables and stamps the result with ts.
func (e *Extractor) Extract(d *locate.Document, ts time.Time) Snapshot {
	return Snapshot{
		Timestamp: ts.UTC(),
		Fields:    e.ExtractAll(d),
		Tables:    e.ExtractTables(d),
	}
}

// ExtractAll locates, cleans and normalizes every field rule. Running it twice
// on the same document yields identical maps.
func (e *Extractor) ExtractAll(d *locate.Document) RawFieldMap {
	out := make(RawFieldMap, len(e.fields))
	for _, f := range e.fields {
		out[f.Name] = e.extractField(d, f)
	}
	return out
}

func (e *Extractor) extractField(d *locate.Document, f rules.Field) (rf RawField) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("field", f.Name).Str("panic", fmt.Sprint(r)).Msg("locator panicked")
			rf = RawField{Format: f.Format}
		}
	}()

	text, ok := locate.Locate(d, f.Rule)
	if !ok {
		e.log.Debug().Str("field", f.Name).Msg("field not found")
		return RawField{Format: f.Format}
	}

	text = Clean(text, f.Name, rules.Label(f.Rule))
	format := normalize.Resolve(f.Format, f.Name, text)
	v := normalize.Normalize(format, text)
	if v.IsAbsent() {
		e.log.Warn().Str("field", f.Name).Str("text", text).Str("format", string(format)).Msg("value did not normalize")
	}
	return RawField{Raw: text, Found: true, Format: format, Value: v}
}

// Clean strips label echoes from multi-line matches. When the text splits
// into exactly two lines and the first is the rule's label (or part of the
// field name) the second line is kept; otherwise the first line carrying a
// digit, "$" or "%" is kept. Single-line text is returned unchanged.
func Clean(text, name, label string) string {
	if !strings.Contains(text, "\n") {
		return text
	}
	parts := strings.Split(text, "\n")
	if len(parts) == 2 {
		first := strings.TrimSpace(parts[0])
		if (label != "" && first == label) || strings.Contains(name, parts[0]) {
			return strings.TrimSpace(parts[1])
		}
	}
	for _, p := range parts {
		if strings.ContainsFunc(p, looksNumeric) {
			return strings.TrimSpace(p)
		}
	}
	return text
}

func looksNumeric(r rune) bool {
	return unicode.IsDigit(r) || r == '$' || r == '%'
}
