package postgres

import (
	"fmt"
	"strings"
)

// setBuilder collects "column = $n" pairs for partial updates.
type setBuilder struct {
	cols []string
	args []any
}

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) empty() bool {
	return len(b.cols) == 0
}

// update renders an UPDATE ... WHERE id = $n statement.
func (b *setBuilder) update(table, id string) (string, []any) {
	args := append(b.args, id)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		table, strings.Join(b.cols, ", "), len(args),
	)
	return query, args
}

// whereBuilder collects AND-ed predicates with positional args.
type whereBuilder struct {
	preds []string
	args  []any
}

// add appends a predicate. Use "?" where the arg placeholder goes.
func (b *whereBuilder) add(pred string, v any) {
	b.args = append(b.args, v)
	b.preds = append(b.preds, strings.Replace(pred, "?", fmt.Sprintf("$%d", len(b.args)), 1))
}

func (b *whereBuilder) String() string {
	if len(b.preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.preds, " AND ")
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
