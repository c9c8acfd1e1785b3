package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dashetl/internal/locate"
)

// DebugPrintSelector prints either outer HTML or text of every match for a
// plain CSS selector. Used by the locate command's -selector mode.
func DebugPrintSelector(w io.Writer, d *locate.Document, selector string, textOnly bool) error {
	matches := d.Selection().Find(selector)
	if matches.Length() == 0 {
		return fmt.Errorf("selector %q matched nothing", selector)
	}
	matches.Each(func(_ int, s *goquery.Selection) {
		if textOnly {
			fmt.Fprintln(w, strings.TrimSpace(s.Text()))
			fmt.Fprintln(w)
			return
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			in, _ := s.Html()
			fmt.Fprintln(w, in)
			fmt.Fprintln(w)
			return
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	})
	return nil
}

// DebugPrintField writes one line per field: name, format, raw text and
// normalized value. Missing fields print "-".
func DebugPrintField(w io.Writer, name string, rf RawField) {
	if !rf.Found {
		fmt.Fprintf(w, "%s\t%s\t-\t-\n", name, rf.Format)
		return
	}
	v := rf.Value.String()
	if rf.Value.IsAbsent() {
		v = "-"
	}
	fmt.Fprintf(w, "%s\t%s\t%q\t%s\n", name, rf.Format, rf.Raw, v)
}
