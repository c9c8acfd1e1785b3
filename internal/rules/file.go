package rules

// ProfileFile is the on-disk shape of a rule profile (YAML or JSON).
type ProfileFile struct {
	Fields []FieldSpec `yaml:"fields" json:"fields"`
	Tables []TableSpec `yaml:"tables" json:"tables"`
	Groups []GroupSpec `yaml:"groups" json:"groups"`
}

// FieldSpec is one entry under `fields`.
type FieldSpec struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"` // value format; empty => auto
	// Selector is shorthand for rule: {type: css, selector: ...}.
	Selector string    `yaml:"selector,omitempty" json:"selector,omitempty"`
	Rule     *RuleSpec `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// RuleSpec is the tagged form of a field rule.
type RuleSpec struct {
	Type     string `yaml:"type" json:"type"` // css | next_sibling | dashboard_primary | dashboard_secondary
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Context  string `yaml:"context,omitempty" json:"context,omitempty"`
}

// TableSpec is one entry under `tables`.
type TableSpec struct {
	Name         string   `yaml:"name" json:"name"`
	Find         string   `yaml:"find" json:"find"` // id | text_contains | container
	TableID      string   `yaml:"table_id,omitempty" json:"table_id,omitempty"`
	SearchText   string   `yaml:"search_text,omitempty" json:"search_text,omitempty"`
	ParentLevels int      `yaml:"parent_levels,omitempty" json:"parent_levels,omitempty"`
	Container    string   `yaml:"container,omitempty" json:"container,omitempty"`
	Rows         string   `yaml:"rows,omitempty" json:"rows,omitempty"`
	Columns      []string `yaml:"columns" json:"columns"`
}

// GroupSpec is one entry under `groups`.
type GroupSpec struct {
	Name    string       `yaml:"name" json:"name"`
	Table   string       `yaml:"table,omitempty" json:"table,omitempty"`
	Columns []ColumnSpec `yaml:"columns" json:"columns"`
}

// ColumnSpec is one output column of a group.
type ColumnSpec struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Kind  string `yaml:"kind,omitempty" json:"kind,omitempty"`
}
