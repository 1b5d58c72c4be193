package filter

import (
	"sort"
	"strings"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/index"
)

// Predicates maps a column to its allowed values. Columns are combined
// with AND; an empty map matches every row.
type Predicates map[string][]string

var aliases = map[string]string{
	"cik":         index.ColumnCIK,
	"company":     index.ColumnCompanyName,
	"companyname": index.ColumnCompanyName,
	"formtype":    index.ColumnFormType,
	"form_type":   index.ColumnFormType,
	"form":        index.ColumnFormType,
	"date":        index.ColumnDateFiled,
	"datefiled":   index.ColumnDateFiled,
	"date_filed":  index.ColumnDateFiled,
	"filename":    index.ColumnFilename,
}

// ResolveColumn maps a column name or alias to the index column name.
func ResolveColumn(name string) (string, bool) {
	for _, c := range index.Columns {
		if name == c {
			return c, true
		}
	}
	c, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// matcher is a resolved predicate set.
type matcher struct {
	columns []string
	allowed []map[string]bool
}

// compile resolves column names and builds value sets. Unknown columns are
// rejected; a column named through several aliases allows the union of
// their values.
func (p Predicates) compile() (*matcher, error) {
	byColumn := make(map[string]map[string]bool, len(p))
	for name, values := range p {
		col, ok := ResolveColumn(name)
		if !ok {
			return nil, errors.Newf(errors.CodeFilter, "unknown column %q", name).
				WithContext("columns", strings.Join(index.Columns, ", "))
		}
		set, ok := byColumn[col]
		if !ok {
			set = make(map[string]bool, len(values))
			byColumn[col] = set
		}
		for _, v := range values {
			set[strings.TrimSpace(v)] = true
		}
	}

	m := &matcher{}
	cols := make([]string, 0, len(byColumn))
	for col := range byColumn {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		m.columns = append(m.columns, col)
		m.allowed = append(m.allowed, byColumn[col])
	}
	return m, nil
}

func (m *matcher) match(r *model.FilingRecord) bool {
	for i, col := range m.columns {
		if !m.allowed[i][index.Value(r, col)] {
			return false
		}
	}
	return true
}

// Normalized returns a copy keyed by index column names, for recording on
// a working set.
func (p Predicates) Normalized() map[string][]string {
	out := make(map[string][]string, len(p))
	for name, values := range p {
		col, ok := ResolveColumn(name)
		if !ok {
			col = name
		}
		out[col] = append(out[col], values...)
	}
	return out
}
