package schema

import "fmt"

// PhysicalType is a concrete column definition: the bare SQL type
// fragment plus an optional CHECK-constraint fragment used to enforce
// bounded lengths or structured-document validity at the database
// layer, per SPEC_FULL.md §3. "%s" in Check is substituted with the
// double-quoted column name.
type PhysicalType struct {
	Name  string // logical name, for diagnostics ("varchar", "numeric", ...)
	SQL   string // bare SQL type, e.g. "varchar(255)"
	Check string // optional CHECK fragment template, e.g. `length(%s) <= 255`
}

// DDLFragment returns the "<type> [check (...)]" fragment used when
// adding or recreating a column named col.
func (t PhysicalType) DDLFragment(col string) string {
	if t.Check == "" {
		return t.SQL
	}
	return fmt.Sprintf("%s check (%s)", t.SQL, fmt.Sprintf(t.Check, quoteIdent(col)))
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
