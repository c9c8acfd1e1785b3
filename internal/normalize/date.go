package normalize

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the calendar-date form used when a date is written out.
const DateLayout = "2006-01-02"

// dateLayouts are tried in order. The abbreviated-weekday forms cover
// dashboards that print "Fri, Jan 5, 2024".
var dateLayouts = []string{
	"January 2, 2006",
	"Monday, January 2, 2006",
	"Jan 2, 2006",
	"Monday, Jan 2, 2006",
	"Mon, Jan 2, 2006",
	"Mon, January 2, 2006",
}

// ParseDate parses the long-form English dates shown on the dashboard.
// Runs of whitespace are collapsed before matching. The result is midnight UTC.
func ParseDate(text string) (time.Time, bool) {
	s := strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
