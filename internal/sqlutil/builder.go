// Package sqlutil composes conjunctive analytical queries with bound
// parameters and provides the escaping helpers used where binding cannot
// apply.
package sqlutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var allowedOps = map[string]struct{}{
	"=": {}, "!=": {}, "<>": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
	"LIKE": {}, "ILIKE": {}, "NOT LIKE": {}, "NOT ILIKE": {},
}

// Builder accumulates predicates, ordering and pagination for one table.
// Predicates are always ANDed. A Builder is not safe for concurrent use.
type Builder struct {
	table   string
	columns []string
	preds   []string
	args    []any
	orders  []string
	limit   int
	offset  int
}

// New returns a builder over table. The table must be a plain identifier.
func New(table string) (*Builder, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("sqlutil: invalid table name %q", table)
	}
	return &Builder{table: table, limit: -1, offset: -1}, nil
}

// MustNew is New for compile-time constant table names.
func MustNew(table string) *Builder {
	b, err := New(table)
	if err != nil {
		panic(err)
	}
	return b
}

func mustIdent(col string) string {
	if !identPattern.MatchString(col) {
		panic(fmt.Sprintf("sqlutil: invalid column %q", col))
	}
	return col
}

// Select restricts the projection. No call means all columns.
func (b *Builder) Select(cols ...string) *Builder {
	for _, c := range cols {
		b.columns = append(b.columns, mustIdent(c))
	}
	return b
}

// Where adds col = val.
func (b *Builder) Where(col string, val any) *Builder {
	return b.WhereOp(col, "=", val)
}

// WhereOp adds col <op> val for a whitelisted operator.
func (b *Builder) WhereOp(col, op string, val any) *Builder {
	op = strings.ToUpper(strings.TrimSpace(op))
	if _, ok := allowedOps[op]; !ok {
		panic(fmt.Sprintf("sqlutil: operator %q not allowed", op))
	}
	b.preds = append(b.preds, mustIdent(col)+" "+op+" ?")
	b.args = append(b.args, val)
	return b
}

// WhereIn adds a membership predicate. An empty set adds nothing.
func (b *Builder) WhereIn(col string, vals []any) *Builder {
	if len(vals) == 0 {
		return b
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
	b.preds = append(b.preds, mustIdent(col)+" IN ("+marks+")")
	b.args = append(b.args, vals...)
	return b
}

// WhereLike adds a case-insensitive substring match on col. The substring
// is matched literally.
func (b *Builder) WhereLike(col, substr string) *Builder {
	b.preds = append(b.preds, mustIdent(col)+` ILIKE ? ESCAPE '\'`)
	b.args = append(b.args, "%"+EscapeLike(substr)+"%")
	return b
}

// WhereBetween adds lo <= col <= hi.
func (b *Builder) WhereBetween(col string, lo, hi any) *Builder {
	return b.WhereOp(col, ">=", lo).WhereOp(col, "<=", hi)
}

// OrderBy appends an ordering key. Anything other than DESC sorts ascending.
func (b *Builder) OrderBy(col, dir string) *Builder {
	d := "ASC"
	if strings.EqualFold(strings.TrimSpace(dir), "DESC") {
		d = "DESC"
	}
	b.orders = append(b.orders, mustIdent(col)+" "+d)
	return b
}

func (b *Builder) OrderByDesc(col string) *Builder {
	return b.OrderBy(col, "DESC")
}

func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Paginate sets LIMIT pageSize OFFSET (page-1)*pageSize. Page is 1-based;
// callers clamp page and pageSize beforehand.
func (b *Builder) Paginate(page, pageSize int) *Builder {
	return b.Limit(pageSize).Offset((page - 1) * pageSize)
}

// BuildWhere renders the predicate set as " WHERE ..." or "" when empty.
func (b *Builder) BuildWhere() (string, []any) {
	if len(b.preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.preds, " AND "), b.copyArgs()
}

// BuildSelect renders the full SELECT with ordering and pagination.
func (b *Builder) BuildSelect() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	where, args := b.BuildWhere()
	sb.WriteString(where)

	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}
	if b.offset >= 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(b.offset))
	}
	return sb.String(), args
}

// BuildCount renders a row count over the same predicates, ignoring
// projection, ordering and pagination.
func (b *Builder) BuildCount() (string, []any) {
	where, args := b.BuildWhere()
	return "SELECT count(*) FROM " + b.table + where, args
}

func (b *Builder) copyArgs() []any {
	out := make([]any, len(b.args))
	copy(out, b.args)
	return out
}

// Values converts a typed slice for WhereIn.
func Values[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
