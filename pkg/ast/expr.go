package ast

import (
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

// Expr is any expression node.
type Expr interface {
	Node
	exprNode()
	Type() types.Id
	SetType(types.Id)
}

type exprBase struct {
	base
	ResolvedType types.Id
}

func (e *exprBase) Type() types.Id      { return e.ResolvedType }
func (e *exprBase) SetType(t types.Id)  { e.ResolvedType = t }

// IntLit is an integer literal.
type IntLit struct {
	exprBase
	Value int64
}

func (*IntLit) exprNode() {}

// FloatLit is a floating-point literal.
type FloatLit struct {
	exprBase
	Value float64
}

func (*FloatLit) exprNode() {}

// StringLit is a string literal.
type StringLit struct {
	exprBase
	Value string
}

func (*StringLit) exprNode() {}

// BoolLit is a boolean literal.
type BoolLit struct {
	exprBase
	Value bool
}

func (*BoolLit) exprNode() {}

// Ident is a bare identifier reference, resolved by the type
// resolver's path-expression handling.
type Ident struct {
	exprBase
	Name intern.Symbol

	// Binding describes what Name resolved to, filled in by the
	// resolver: "var", "func", "module_alias", "type".
	Binding string
	// DeclaringDepth is the function-stack index of the scope that
	// declared Name, used by lambda capture analysis.
	DeclaringDepth int
}

func (*Ident) exprNode() {}

// PathSegmentKind distinguishes what a PathExpr segment resolved to
//.
type PathSegmentKind int

const (
	PathSegUnresolved PathSegmentKind = iota
	PathSegField
	PathSegVariant
	PathSegModuleMember
)

// PathExpr is a `base.seg1.seg2...` member-access chain.
type PathExpr struct {
	exprBase
	Base     Expr
	Segments []string

	// ResolvedKinds[i] describes how Segments[i] was resolved, for the
	// emitter and for diagnostics.
	ResolvedKinds []PathSegmentKind
}

func (*PathExpr) exprNode() {}

// CallExpr is a function, constructor, or operator-routed call.
type CallExpr struct {
	exprBase
	Callee Expr
	Args   []Expr

	// GenericArgs carries explicit or inferred generic arguments; nil
	// when the callee is non-generic.
	GenericArgs []types.Id

	// Routing classifies which of the four call forms this resolved
	// to: "variant", "newtype", "operator", "function".
	Routing string
}

func (*CallExpr) exprNode() {}

// BinaryExpr is a binary operator application.
type BinaryExpr struct {
	exprBase
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr is a unary operator application.
type UnaryExpr struct {
	exprBase
	Op      string
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

// LambdaExpr is a lambda literal; its body and parameters are held in
// an embedded synthetic FuncDecl so the type resolver's function-body
// machinery and lambda capture analysis can treat it uniformly with
// top-level functions.
type LambdaExpr struct {
	exprBase
	Decl *FuncDecl
}

func (*LambdaExpr) exprNode() {}

// BraceInitKind distinguishes the three brace-initializer forms.
type BraceInitKind int

const (
	BraceInitPositional BraceInitKind = iota
	BraceInitFields
	BraceInitKeyValue
)

// BraceInitEntry is one element of a brace initializer.
type BraceInitEntry struct {
	FieldName string // set for BraceInitFields
	Key       Expr   // set for BraceInitKeyValue
	Value     Expr
}

// BraceInit is a `T { ... }` initializer; TargetType names the
// expected type expression (may be absent when context alone implies
// it, e.g. a nested field of an outer brace initializer).
type BraceInit struct {
	exprBase
	TargetType *TypeExpr
	Kind       BraceInitKind
	Entries    []BraceInitEntry
}

func (*BraceInit) exprNode() {}

// IndexExpr is `e[i]` array/map indexing.
type IndexExpr struct {
	exprBase
	Recv  Expr
	Index Expr
}

func (*IndexExpr) exprNode() {}

// TupleExpr is a `(e1, e2, ...)` tuple literal.
type TupleExpr struct {
	exprBase
	Elems []Expr
}

func (*TupleExpr) exprNode() {}
