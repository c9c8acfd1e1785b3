// Package rules defines the declarative rule model used to pull values out of
// the dashboard page: field rules, table rules and the record groups that
// arrange extracted fields into output rows.
//
// Rule kinds are closed sum types. Consumers switch over the concrete types;
// adding a kind means adding a case everywhere the compiler-visible marker
// method is implemented.
package rules

import "dashetl/internal/normalize"

// FieldRule describes how to locate the text of one scalar field.
//
// Implementations: CSSRule, NextSiblingRule, DashboardPrimaryRule,
// DashboardSecondaryRule.
type FieldRule interface {
	isFieldRule()
}

// CSSRule selects the first element matching Selector.
//
// Selector may use the extended form `tag:contains('text')`, optionally
// followed by `+ p`, which is not valid CSS and is handled by the locator.
type CSSRule struct {
	Selector string
}

// NextSiblingRule finds a text node containing Label and reads the value
// next to it. When Context is set, a candidate is accepted only if Context
// appears in the text of one of its nearest five ancestors.
type NextSiblingRule struct {
	Label   string
	Context string
}

// DashboardPrimaryRule reads the primary value of the dashboard tile whose
// title contains Context.
type DashboardPrimaryRule struct {
	Context string
}

// DashboardSecondaryRule reads the secondary value of the tile whose title
// contains Context.
type DashboardSecondaryRule struct {
	Context string
}

func (CSSRule) isFieldRule()                {}
func (NextSiblingRule) isFieldRule()        {}
func (DashboardPrimaryRule) isFieldRule()   {}
func (DashboardSecondaryRule) isFieldRule() {}

// Label returns the visible label text a rule anchors on, or "" when the rule
// is purely structural.
func Label(r FieldRule) string {
	switch r := r.(type) {
	case NextSiblingRule:
		return r.Label
	case DashboardPrimaryRule:
		return r.Context
	case DashboardSecondaryRule:
		return r.Context
	default:
		return ""
	}
}

// Field binds a field name to its rule and value format.
type Field struct {
	Name   string
	Rule   FieldRule
	Format normalize.Format
}

// TableRule describes how to locate a repeating tabular structure.
//
// Implementations: TableByID, TableByTextContains, TableByContainer.
type TableRule interface {
	isTableRule()
	columns() []string
}

// TableByID reads `table#TableID`.
type TableByID struct {
	TableID string
	Columns []string
}

// TableByTextContains anchors on a header text, climbs ParentLevels
// ancestors and reads the table found inside or after that ancestor.
type TableByTextContains struct {
	SearchText   string
	ParentLevels int
	Columns      []string
}

// TableByContainer selects Container, then Rows inside it.
type TableByContainer struct {
	Container string
	Rows      string
	Columns   []string
}

// DefaultParentLevels is used when a text-anchored table omits parent_levels.
const DefaultParentLevels = 2

func (TableByID) isTableRule()           {}
func (TableByTextContains) isTableRule() {}
func (TableByContainer) isTableRule()    {}

func (r TableByID) columns() []string           { return r.Columns }
func (r TableByTextContains) columns() []string { return r.Columns }
func (r TableByContainer) columns() []string    { return r.Columns }

// Columns returns the declared column names of r.
func Columns(r TableRule) []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.columns()...)
}

// Table binds a dataset name to its rule.
type Table struct {
	Name string
	Rule TableRule
}

// Column is one output column of a record group.
type Column struct {
	// Name is the output column name.
	Name string
	// Field is the source field; defaults to Name.
	Field string
	// Format overrides the field's own format when set.
	Format normalize.Format
}

// TimestampColumn is the leading column of every assembled record.
const TimestampColumn = "TIMESTAMP"

// Group is a named set of columns written together as one record.
type Group struct {
	Name string
	// Table is the warehouse table the group loads into.
	Table   string
	Columns []Column
}
