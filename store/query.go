package store

import (
	"fmt"
	"sort"
)

// Operator is a filter comparison.
type Operator string

const (
	Equal            Operator = "=="
	ArrayContains    Operator = "array-contains"
	ArrayContainsAny Operator = "array-contains-any"
	In               Operator = "in"
)

// MaxDisjunction is the largest value list accepted by ArrayContainsAny and In.
const MaxDisjunction = 30

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Filter restricts a query to documents whose top-level Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order sorts query results by a top-level field. Documents without the
// field are left out of the result, as the hosted store does.
type Order struct {
	Field     string
	Direction Direction
}

// Query describes a read over one collection.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// Collection starts a query over the collection at path.
func Collection(path string) Query {
	return Query{Collection: path}
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(field string, op Operator, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy returns a copy of q with an extra sort key.
func (q Query) OrderBy(field string, dir Direction) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Field: field, Direction: dir})
	return q
}

// WithLimit returns a copy of q returning at most n documents.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func validateQuery(q Query) error {
	if err := validateCollection(q.Collection); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: empty filter field", ErrInvalidQuery)
		}
		switch f.Op {
		case Equal, ArrayContains:
		case ArrayContainsAny, In:
			list, ok := normalizeValue(f.Value).([]any)
			if !ok || len(list) == 0 {
				return fmt.Errorf("%w: %s on %q needs a non-empty list", ErrInvalidQuery, f.Op, f.Field)
			}
			if len(list) > MaxDisjunction {
				return fmt.Errorf("%w: %s on %q takes at most %d values", ErrInvalidQuery, f.Op, f.Field, MaxDisjunction)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.Orders {
		if o.Field == "" {
			return fmt.Errorf("%w: empty order field", ErrInvalidQuery)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// runQuery evaluates q over the full contents of its collection.
// The query must already have passed validateQuery.
func runQuery(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if matchAll(q.Filters, d.Data) && hasFields(q.Orders, d.Data) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareDocs(q.Orders, out[i], out[j]) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchAll(filters []Filter, data map[string]any) bool {
	for _, f := range filters {
		if !matchFilter(f, data) {
			return false
		}
	}
	return true
}

func matchFilter(f Filter, data map[string]any) bool {
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	want := normalizeValue(f.Value)
	switch f.Op {
	case Equal:
		return equalValues(v, want)
	case ArrayContains:
		arr, isArr := v.([]any)
		return isArr && containsValue(arr, want)
	case ArrayContainsAny:
		arr, isArr := v.([]any)
		if !isArr {
			return false
		}
		for _, w := range want.([]any) {
			if containsValue(arr, w) {
				return true
			}
		}
		return false
	case In:
		return containsValue(want.([]any), v)
	}
	return false
}

func hasFields(orders []Order, data map[string]any) bool {
	for _, o := range orders {
		if _, ok := data[o.Field]; !ok {
			return false
		}
	}
	return true
}

// compareDocs orders by the query's sort keys, then by document ID in the
// direction of the last sort key.
func compareDocs(orders []Order, a, b Document) int {
	dir := Asc
	for _, o := range orders {
		c := compareValues(a.Data[o.Field], b.Data[o.Field])
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		dir = o.Direction
	}
	c := compareValues(a.ID, b.ID)
	if dir == Desc {
		c = -c
	}
	return c
}

// Sort orders docs in place by the given keys, then by ID. A document
// missing a key sorts as if the field were null.
func Sort(docs []Document, orders ...Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		return compareDocs(orders, docs[i], docs[j]) < 0
	})
}
