package rules

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"dashetl/internal/normalize"
)

// ErrEmptyRuleSet is returned when a profile declares neither fields nor tables.
var ErrEmptyRuleSet = errors.New("rules: profile has no field or table rules")

//go:embed profiles/dashboard.yaml
var dashboardProfile []byte

// Profile is a validated, read-only rule set. Accessors return copies, so a
// Profile can be shared between goroutines.
type Profile struct {
	fields []Field
	tables []Table
	groups []Group
	byName map[string]int
}

// Fields returns the field rules in declaration order.
func (p *Profile) Fields() []Field { return append([]Field(nil), p.fields...) }

// Tables returns the table rules in declaration order.
func (p *Profile) Tables() []Table {
	out := make([]Table, len(p.tables))
	copy(out, p.tables)
	return out
}

// Groups returns the record groups in declaration order.
func (p *Profile) Groups() []Group {
	out := make([]Group, len(p.groups))
	for i, g := range p.groups {
		g.Columns = append([]Column(nil), g.Columns...)
		out[i] = g
	}
	return out
}

// Field looks up a field rule by name.
func (p *Profile) Field(name string) (Field, bool) {
	i, ok := p.byName[name]
	if !ok {
		return Field{}, false
	}
	return p.fields[i], true
}

// GroupTable returns the warehouse table configured for the group or table
// dataset called name.
func (p *Profile) GroupTable(name string) (string, bool) {
	for _, g := range p.groups {
		if g.Name == name {
			return g.Table, true
		}
	}
	for _, t := range p.tables {
		if t.Name == name {
			return strings.ToUpper(t.Name), true
		}
	}
	return "", false
}

var defaultProfile = sync.OnceValues(func() (*Profile, error) {
	return Parse(dashboardProfile, ".yaml")
})

// Default returns the embedded dashboard profile.
func Default() (*Profile, error) {
	return defaultProfile()
}

// LoadFile reads a profile from path. Files ending in .json are decoded as
// JSON, everything else as YAML.
func LoadFile(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	p, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Load returns the profile at path, or the embedded default when path is empty.
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return LoadFile(path)
}

// Parse decodes and validates profile bytes. ext selects the decoder.
func Parse(b []byte, ext string) (*Profile, error) {
	var pf ProfileFile
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(b, &pf); err != nil {
			return nil, fmt.Errorf("parse rules json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &pf); err != nil {
			return nil, fmt.Errorf("parse rules yaml: %w", err)
		}
	}
	return Compile(pf)
}

// Compile validates pf and builds the typed rule set.
func Compile(pf ProfileFile) (*Profile, error) {
	if len(pf.Fields) == 0 && len(pf.Tables) == 0 {
		return nil, ErrEmptyRuleSet
	}

	p := &Profile{byName: make(map[string]int, len(pf.Fields))}
	for i, fs := range pf.Fields {
		f, err := compileField(fs)
		if err != nil {
			return nil, fmt.Errorf("fields[%d]: %w", i, err)
		}
		if _, dup := p.byName[f.Name]; dup {
			return nil, fmt.Errorf("fields[%d]: duplicate field %q", i, f.Name)
		}
		p.byName[f.Name] = len(p.fields)
		p.fields = append(p.fields, f)
	}

	seenTables := map[string]struct{}{}
	for i, ts := range pf.Tables {
		t, err := compileTable(ts)
		if err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
		if _, dup := seenTables[t.Name]; dup {
			return nil, fmt.Errorf("tables[%d]: duplicate table %q", i, t.Name)
		}
		seenTables[t.Name] = struct{}{}
		p.tables = append(p.tables, t)
	}

	seenGroups := map[string]struct{}{}
	for i, gs := range pf.Groups {
		g, err := p.compileGroup(gs)
		if err != nil {
			return nil, fmt.Errorf("groups[%d]: %w", i, err)
		}
		if _, dup := seenGroups[g.Name]; dup {
			return nil, fmt.Errorf("groups[%d]: duplicate group %q", i, g.Name)
		}
		seenGroups[g.Name] = struct{}{}
		p.groups = append(p.groups, g)
	}
	return p, nil
}

func compileField(fs FieldSpec) (Field, error) {
	name := strings.TrimSpace(fs.Name)
	if name == "" {
		return Field{}, errors.New("missing name")
	}
	format, err := normalize.ParseFormat(fs.Kind)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}

	var rs RuleSpec
	switch {
	case fs.Rule != nil && fs.Selector != "":
		return Field{}, fmt.Errorf("field %q: set either selector or rule, not both", name)
	case fs.Rule != nil:
		rs = *fs.Rule
	case fs.Selector != "":
		rs = RuleSpec{Type: "css", Selector: fs.Selector}
	default:
		return Field{}, fmt.Errorf("field %q: missing rule", name)
	}

	rule, err := compileRule(rs)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}
	return Field{Name: name, Rule: rule, Format: format}, nil
}

func compileRule(rs RuleSpec) (FieldRule, error) {
	switch strings.ToLower(strings.TrimSpace(rs.Type)) {
	case "", "css":
		if strings.TrimSpace(rs.Selector) == "" {
			return nil, errors.New("css rule needs a selector")
		}
		return CSSRule{Selector: rs.Selector}, nil
	case "next_sibling":
		if rs.Label == "" {
			return nil, errors.New("next_sibling rule needs a label")
		}
		return NextSiblingRule{Label: rs.Label, Context: rs.Context}, nil
	case "dashboard_primary":
		if rs.Context == "" {
			return nil, errors.New("dashboard_primary rule needs a context")
		}
		return DashboardPrimaryRule{Context: rs.Context}, nil
	case "dashboard_secondary":
		if rs.Context == "" {
			return nil, errors.New("dashboard_secondary rule needs a context")
		}
		return DashboardSecondaryRule{Context: rs.Context}, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", rs.Type)
	}
}

func compileTable(ts TableSpec) (Table, error) {
	name := strings.TrimSpace(ts.Name)
	if name == "" {
		return Table{}, errors.New("missing name")
	}
	if len(ts.Columns) == 0 {
		return Table{}, fmt.Errorf("table %q: no columns", name)
	}
	cols := append([]string(nil), ts.Columns...)

	switch strings.ToLower(strings.TrimSpace(ts.Find)) {
	case "id":
		if ts.TableID == "" {
			return Table{}, fmt.Errorf("table %q: find=id needs table_id", name)
		}
		return Table{Name: name, Rule: TableByID{TableID: ts.TableID, Columns: cols}}, nil
	case "text_contains":
		if ts.SearchText == "" {
			return Table{}, fmt.Errorf("table %q: find=text_contains needs search_text", name)
		}
		levels := ts.ParentLevels
		switch {
		case levels < 0:
			return Table{}, fmt.Errorf("table %q: parent_levels must be >= 0", name)
		case levels == 0:
			levels = DefaultParentLevels
		}
		return Table{Name: name, Rule: TableByTextContains{SearchText: ts.SearchText, ParentLevels: levels, Columns: cols}}, nil
	case "container":
		if ts.Container == "" || ts.Rows == "" {
			return Table{}, fmt.Errorf("table %q: find=container needs container and rows", name)
		}
		return Table{Name: name, Rule: TableByContainer{Container: ts.Container, Rows: ts.Rows, Columns: cols}}, nil
	default:
		return Table{}, fmt.Errorf("table %q: unknown find %q", name, ts.Find)
	}
}

func (p *Profile) compileGroup(gs GroupSpec) (Group, error) {
	name := strings.TrimSpace(gs.Name)
	if name == "" {
		return Group{}, errors.New("missing name")
	}
	if len(gs.Columns) == 0 {
		return Group{}, fmt.Errorf("group %q: no columns", name)
	}

	g := Group{Name: name, Table: strings.TrimSpace(gs.Table)}
	if g.Table == "" {
		g.Table = strings.ToUpper(name)
	}

	seen := map[string]struct{}{}
	for _, cs := range gs.Columns {
		col := Column{Name: strings.TrimSpace(cs.Name), Field: strings.TrimSpace(cs.Field)}
		if col.Name == "" {
			return Group{}, fmt.Errorf("group %q: column without name", name)
		}
		if strings.EqualFold(col.Name, TimestampColumn) {
			return Group{}, fmt.Errorf("group %q: column %s is added automatically", name, TimestampColumn)
		}
		if _, dup := seen[col.Name]; dup {
			return Group{}, fmt.Errorf("group %q: duplicate column %q", name, col.Name)
		}
		seen[col.Name] = struct{}{}
		if col.Field == "" {
			col.Field = col.Name
		}
		if _, ok := p.byName[col.Field]; !ok {
			return Group{}, fmt.Errorf("group %q: column %q references unknown field %q", name, col.Name, col.Field)
		}
		if cs.Kind != "" {
			f, err := normalize.ParseFormat(cs.Kind)
			if err != nil {
				return Group{}, fmt.Errorf("group %q: column %q: %w", name, col.Name, err)
			}
			col.Format = f
		}
		g.Columns = append(g.Columns, col)
	}
	return g, nil
}
