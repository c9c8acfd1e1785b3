package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dashetl/internal/locate"
	"dashetl/internal/rules"
)

const cellSelector = "td, th"

// ExtractTables decodes every table rule. Tables that cannot be found come
// back with no rows.
func (e *Extractor) ExtractTables(d *locate.Document) []Table {
	out := make([]Table, 0, len(e.tables))
	for _, t := range e.tables {
		rows := e.safeTable(d, t)
		e.log.Debug().Str("table", t.Name).Int("rows", len(rows)).Msg("table extracted")
		out = append(out, Table{Name: t.Name, Columns: rules.Columns(t.Rule), Rows: rows})
	}
	return out
}

func (e *Extractor) safeTable(d *locate.Document, t rules.Table) (rows []Row) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("table", t.Name).Str("panic", fmt.Sprint(r)).Msg("table decode panicked")
			rows = []Row{}
		}
	}()
	return ExtractTable(d, t.Rule)
}

// ExtractTable decodes one table rule. The result is never nil.
//
//   - TableByID reads tbody rows when present, otherwise every row; short
//     rows are padded with absent cells.
//   - TableByTextContains skips the header row and needs at least one data
//     row; short rows are padded.
//   - TableByContainer skips the first row and drops rows with fewer cells
//     than columns.
//
// Rows without any cells are skipped in every mode.
func ExtractTable(d *locate.Document, r rules.TableRule) []Row {
	if d == nil {
		return []Row{}
	}
	switch r := r.(type) {
	case rules.TableByID:
		return byID(d, r)
	case rules.TableByTextContains:
		return byTextContains(d, r)
	case rules.TableByContainer:
		return byContainer(d, r)
	default:
		return []Row{}
	}
}

func byID(d *locate.Document, r rules.TableByID) []Row {
	table := d.Selection().Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return id == r.TableID
	}).First()
	if table.Length() == 0 {
		return []Row{}
	}

	rows := table.Find("tr")
	if tbody := table.Find("tbody").First(); tbody.Length() > 0 {
		rows = tbody.Find("tr")
	}
	return padRows(rows, r.Columns)
}

func byTextContains(d *locate.Document, r rules.TableByTextContains) []Row {
	header := d.FirstText(func(s string) bool { return strings.TrimSpace(s) == r.SearchText })
	if header == nil {
		header = d.FirstText(locate.Containing(r.SearchText))
	}
	if header == nil {
		return []Row{}
	}

	container := header
	for i := 0; i < r.ParentLevels; i++ {
		container = locate.Parent(container)
		if container == nil {
			return []Row{}
		}
	}

	table := locate.FindAfter(container, locate.IsTag("table"))
	if table == nil {
		return []Row{}
	}

	rows := locate.Wrap(table).Find("tr")
	if rows.Length() < 2 {
		return []Row{}
	}
	return padRows(rows.Slice(1, goquery.ToEnd), r.Columns)
}

func byContainer(d *locate.Document, r rules.TableByContainer) []Row {
	container := d.Selection().Find(r.Container).First()
	if container.Length() == 0 {
		return []Row{}
	}
	rows := container.Find(r.Rows)
	out := []Row{}
	if rows.Length() < 2 {
		return out
	}
	rows.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find(cellSelector)
		if cells.Length() < len(r.Columns) {
			return
		}
		row := make(Row, len(r.Columns))
		for i, col := range r.Columns {
			v := strings.TrimSpace(cells.Eq(i).Text())
			row[col] = &v
		}
		out = append(out, row)
	})
	return out
}

// padRows maps cells positionally onto columns. Missing trailing cells are
// absent; rows with no cells at all are skipped.
func padRows(rows *goquery.Selection, columns []string) []Row {
	out := []Row{}
	rows.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find(cellSelector)
		if cells.Length() == 0 {
			return
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i >= cells.Length() {
				row[col] = nil
				continue
			}
			v := strings.TrimSpace(cells.Eq(i).Text())
			row[col] = &v
		}
		out = append(out, row)
	})
	return out
}
