package subscription

import (
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/livesync/pkg/object"
)

// Query selects the rows of a table a client wants to see. Filter is a JSONPath filter
// condition evaluated on each row, e.g. "@.age > 30 && @.name != 'root'". An empty filter
// matches every row.
type Query struct {
	ID     string `json:"id"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type compiledQuery struct {
	Query
	expr jp.Expr
}

func compile(q Query) (*compiledQuery, error) {
	if q.ID == "" {
		return nil, fmt.Errorf("%w: empty query id", ErrInvalidQuery)
	}

	cq := &compiledQuery{Query: q}
	if q.Filter == "" {
		return cq, nil
	}

	expr, err := jp.ParseString("$[?(" + q.Filter + ")]")
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %w", ErrInvalidQuery, q.ID, err)
	}
	cq.expr = expr

	return cq, nil
}

// matches evaluates the filter with the row wrapped in a one-element list.
func (q *compiledQuery) matches(row object.Row) bool {
	if q.expr == nil {
		return true
	}
	return len(q.expr.Get([]any{map[string]any(row)})) > 0
}

func (q *compiledQuery) filter(rows []object.Row) []object.Row {
	var ret []object.Row
	for _, row := range rows {
		if q.matches(row) {
			ret = append(ret, row)
		}
	}
	return ret
}
