// Package consteval folds constant integer expressions, used by the
// resolver for array sizes, tuple indices, and fixed-array extents,
// and by the validator for switch case labels.
package consteval

import (
	"smalls/pkg/ast"
	"smalls/pkg/intern"
)

// ConstLookup resolves an identifier to its constant integer value,
// used for `const` bindings referenced from a constant expression.
// The resolver supplies this from its environment rather than
// consteval owning scope lookup itself.
type ConstLookup func(name intern.Symbol) (int64, bool)

// EvalInt folds expr to an int64 if it is a constant integer
// expression, reporting false (not a diagnostic) when it is not.
// Callers turn that into a diagnostic only when constancy is
// mandatory.
func EvalInt(expr ast.Expr, lookup ConstLookup) (int64, bool) {
	switch e := expr.(type) {
	case *ast.IntLit:
		return e.Value, true
	case *ast.BoolLit:
		if e.Value {
			return 1, true
		}
		return 0, true
	case *ast.Ident:
		if lookup == nil {
			return 0, false
		}
		return lookup(e.Name)
	case *ast.UnaryExpr:
		v, ok := EvalInt(e.Operand, lookup)
		if !ok {
			return 0, false
		}
		switch e.Op {
		case "minus":
			return -v, true
		case "plus":
			return v, true
		default:
			return 0, false
		}
	case *ast.BinaryExpr:
		l, ok := EvalInt(e.Left, lookup)
		if !ok {
			return 0, false
		}
		r, ok := EvalInt(e.Right, lookup)
		if !ok {
			return 0, false
		}
		return evalBinaryInt(e.Op, l, r)
	default:
		return 0, false
	}
}

// EvalString folds expr to a string literal value, used for switch
// case labels over a string scrutinee.
func EvalString(expr ast.Expr) (string, bool) {
	if s, ok := expr.(*ast.StringLit); ok {
		return s.Value, true
	}
	return "", false
}

func evalBinaryInt(op string, l, r int64) (int64, bool) {
	switch op {
	case "plus":
		return l + r, true
	case "minus":
		return l - r, true
	case "times":
		return l * r, true
	case "div":
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case "mod":
		if r == 0 {
			return 0, false
		}
		return l % r, true
	default:
		return 0, false
	}
}
