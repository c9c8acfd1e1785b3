// Command locate applies rules to a single page for ad-hoc debugging.
//
// Print every field of the embedded profile for a saved page:
//
//	locate -file page.html
//
// One field from a custom profile, fetched live:
//
//	locate -url https://newhedge.io/bitcoin -rules rules.yaml -field LIVE_PRICE
//
// Print matches for a CSS selector (outer HTML, or text with -text):
//
//	cat page.html | locate -selector "div.dashboard-tile" -text
//
// Dump scraped tables as JSON:
//
//	locate -file page.html -tables
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"dashetl/internal/extract"
	"dashetl/internal/fetch"
	"dashetl/internal/locate"
	"dashetl/internal/rules"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// run returns 0 on success, 2 for usage errors and 1 for runtime errors.
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fileFlag := fs.String("file", "", "Read HTML from a saved file")
	urlFlag := fs.String("url", "", "Fetch HTML from URL instead of stdin")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	selector := fs.String("selector", "", "Debug: CSS selector to print matches for")
	onlyText := fs.Bool("text", false, "With -selector: print trimmed text instead of outer HTML")
	rulesPath := fs.String("rules", "", "Rule profile (YAML or JSON); empty uses the embedded profile")
	field := fs.String("field", "", "Print only this field")
	tables := fs.Bool("tables", false, "Print scraped tables as JSON instead of fields")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	var profile *rules.Profile
	if *selector == "" {
		p, err := rules.Load(*rulesPath)
		if err != nil {
			fmt.Fprintf(stderr, "load rules: %v\n", err)
			return 2
		}
		if *field != "" {
			if _, ok := p.Field(*field); !ok {
				fmt.Fprintf(stderr, "unknown field %q\n", *field)
				return 2
			}
		}
		profile = p
	}

	loader := fetch.NewLoader(httpClient, *timeout)
	html, err := loader.Load(ctx, fetch.Input{Path: *fileFlag, URL: *urlFlag, Stdin: stdin})
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}
	doc, err := locate.ParseString(html)
	if err != nil {
		fmt.Fprintf(stderr, "parse html: %v\n", err)
		return 1
	}

	if *selector != "" {
		if err := extract.DebugPrintSelector(stdout, doc, *selector, *onlyText); err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		return 0
	}

	ex := extract.New(profile)

	if *tables {
		out := make(map[string][]extract.Row)
		for _, t := range ex.ExtractTables(doc) {
			out[t.Name] = t.Rows
		}
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	fields := ex.ExtractAll(doc)
	if *field != "" {
		extract.DebugPrintField(stdout, *field, fields[*field])
		return 0
	}
	for _, name := range fields.Names() {
		extract.DebugPrintField(stdout, name, fields[name])
	}
	found, missing := fields.Counts()
	fmt.Fprintf(stderr, "found=%d missing=%d\n", found, missing)
	return 0
}
