package types

import (
	"fmt"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq     CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq  CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt     CommonFilterOperator = "lt"
	CommonFilterOperatorLte    CommonFilterOperator = "lte"
	CommonFilterOperatorGt     CommonFilterOperator = "gt"
	CommonFilterOperatorGte    CommonFilterOperator = "gte"
	CommonFilterOperatorRange  CommonFilterOperator = "range"
	CommonFilterOperatorIn     CommonFilterOperator = "in"
	CommonFilterOperatorIsNull CommonFilterOperator = "is_null"
	CommonFilterOperatorNotNil CommonFilterOperator = "not_null"
)

// CommonFilter is a single column predicate. Field must be a plain column name
// accepted by Validate; filters never carry raw SQL.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// Validate checks the field against the allowed column set.
func (f *CommonFilter) Validate(allowed map[string]struct{}) error {
	if _, ok := allowed[f.Field]; !ok {
		return fmt.Errorf("filter field not allowed: %q", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorIsNull, CommonFilterOperatorNotNil:
		return nil
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return fmt.Errorf("range filter on %q needs two values", f.Field)
		}
	default:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter on %q has no values", f.Field)
		}
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	col := clause.Column{Name: f.Field}
	switch f.Operator {
	case CommonFilterOperatorIsNull:
		clause.Expr{SQL: "? IS NULL", Vars: []any{col}}.Build(builder)
		return
	case CommonFilterOperatorNotNil:
		clause.Expr{SQL: "? IS NOT NULL", Vars: []any{col}}.Build(builder)
		return
	}

	if len(f.Values) == 0 {
		return
	}
	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: col, Value: f.Values[0]}, clause.Lte{Column: col, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: col, Values: f.Values}.Build(builder)
	}
}

// FiltersAnd combines filters into a single clause.Expression.
type FiltersAnd []*CommonFilter

func (w FiltersAnd) Build(builder clause.Builder) {
	if len(w) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w))
	for _, f := range w {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}
