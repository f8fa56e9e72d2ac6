// Package predicate defines the boolean conditions over question columns
// that decide whether a question is open, answering, frozen and so on.
//
// Each condition is a single expression tree with two interpreters: one
// renders it as a SQL filter for the database layer, the other evaluates it
// against an in-memory row. Evaluation uses three-valued logic so that NULL
// columns behave exactly as they do in SQL.
package predicate

import (
	"strings"
	"time"

	"github.com/Raytar/helpqueue/models"
	"gorm.io/gorm/clause"
)

// Truth is a three-valued logical value.
type Truth int8

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Expr is a boolean expression over the columns of one table.
type Expr interface {
	// Eval evaluates the expression against row.
	Eval(row models.Row) Truth
	build(alias string, b *builder)
}

type builder struct {
	sql  strings.Builder
	vars []any
}

func (b *builder) column(alias, col string) {
	if alias != "" {
		b.sql.WriteString(alias)
		b.sql.WriteByte('.')
	}
	b.sql.WriteString(col)
}

// SQL renders e as a gorm clause with columns qualified by alias.
// An empty alias leaves columns unqualified.
func SQL(e Expr, alias string) clause.Expr {
	var b builder
	e.build(alias, &b)
	return clause.Expr{SQL: b.sql.String(), Vars: b.vars}
}

// Holds reports whether e is known to be true for row.
func Holds(e Expr, row models.Row) bool {
	return e.Eval(row) == True
}

type isNull struct{ col string }

// Null is true when col is NULL.
func Null(col string) Expr { return isNull{col} }

func (e isNull) Eval(row models.Row) Truth { return truth(row[e.col] == nil) }

func (e isNull) build(alias string, b *builder) {
	b.column(alias, e.col)
	b.sql.WriteString(" IS NULL")
}

type notNull struct{ col string }

// NotNull is true when col holds a value.
func NotNull(col string) Expr { return notNull{col} }

func (e notNull) Eval(row models.Row) Truth { return truth(row[e.col] != nil) }

func (e notNull) build(alias string, b *builder) {
	b.column(alias, e.col)
	b.sql.WriteString(" IS NOT NULL")
}

type after struct {
	col string
	t   time.Time
}

// After is true when the timestamp in col is strictly later than t.
// It is unknown when col is NULL.
func After(col string, t time.Time) Expr { return after{col, t} }

func (e after) Eval(row models.Row) Truth {
	v := row.Time(e.col)
	if v == nil {
		return Unknown
	}
	return truth(v.After(e.t))
}

func (e after) build(alias string, b *builder) {
	b.column(alias, e.col)
	b.sql.WriteString(" > ?")
	b.vars = append(b.vars, e.t)
}

type and []Expr

// And is true when every operand is true.
func And(exprs ...Expr) Expr { return and(exprs) }

func (e and) Eval(row models.Row) Truth {
	res := True
	for _, x := range e {
		switch x.Eval(row) {
		case False:
			return False
		case Unknown:
			res = Unknown
		}
	}
	return res
}

func (e and) build(alias string, b *builder) { join(e, " AND ", alias, b) }

type or []Expr

// Or is true when at least one operand is true.
func Or(exprs ...Expr) Expr { return or(exprs) }

func (e or) Eval(row models.Row) Truth {
	res := False
	for _, x := range e {
		switch x.Eval(row) {
		case True:
			return True
		case Unknown:
			res = Unknown
		}
	}
	return res
}

func (e or) build(alias string, b *builder) { join(e, " OR ", alias, b) }

func join(exprs []Expr, op, alias string, b *builder) {
	b.sql.WriteByte('(')
	for i, x := range exprs {
		if i > 0 {
			b.sql.WriteString(op)
		}
		x.build(alias, b)
	}
	b.sql.WriteByte(')')
}

type not struct{ e Expr }

// Not negates e. The negation of unknown is unknown.
func Not(e Expr) Expr { return not{e} }

func (e not) Eval(row models.Row) Truth {
	switch e.e.Eval(row) {
	case True:
		return False
	case False:
		return True
	}
	return Unknown
}

func (e not) build(alias string, b *builder) {
	b.sql.WriteString("NOT (")
	e.e.build(alias, b)
	b.sql.WriteByte(')')
}
