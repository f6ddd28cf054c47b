package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a server-evaluated filter predicate over list fields. Expressions
// are built from typed terms rather than concatenated by hand, so field
// values containing quote characters cannot break out of the predicate.
type Expr struct {
	clause string
}

// String renders the predicate in the store's filter syntax.
func (e Expr) String() string { return e.clause }

// Empty reports whether the expression matches everything.
func (e Expr) Empty() bool { return e.clause == "" }

// Eq matches records whose field equals value.
func Eq(field string, value any) Expr {
	return Expr{clause: field + " eq " + literal(value)}
}

// Ge matches records whose field is greater than or equal to value.
func Ge(field string, value any) Expr {
	return Expr{clause: field + " ge " + literal(value)}
}

// Le matches records whose field is less than or equal to value.
func Le(field string, value any) Expr {
	return Expr{clause: field + " le " + literal(value)}
}

// In matches records whose integer field is a member of ids.
func In(field string, ids []int) Expr {
	if len(ids) == 0 {
		return Expr{}
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return Expr{clause: field + " in (" + strings.Join(parts, ",") + ")"}
}

// And combines expressions conjunctively, skipping empty terms.
func And(exprs ...Expr) Expr {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if !e.Empty() {
			parts = append(parts, e.clause)
		}
	}
	return Expr{clause: strings.Join(parts, " and ")}
}

// Or combines expressions disjunctively, parenthesized so the result can be
// safely conjoined with further terms.
func Or(exprs ...Expr) Expr {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if !e.Empty() {
			parts = append(parts, e.clause)
		}
	}
	if len(parts) == 0 {
		return Expr{}
	}
	if len(parts) == 1 {
		return Expr{clause: parts[0]}
	}
	return Expr{clause: "(" + strings.Join(parts, " or ") + ")"}
}

// literal renders a value as a filter literal. String values have embedded
// single quotes doubled per the store's escaping rules.
func literal(value any) string {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case Status:
		return "'" + string(v) + "'"
	case int:
		return strconv.Itoa(v)
	case time.Time:
		return "'" + v.Format("2006-01-02") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
	}
}
