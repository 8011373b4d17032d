// Package ast defines the resolved AST the Smalls core analyzes: the
// node shapes an external lexer/parser hands to the name resolver,
// type resolver, and validator, and that the bytecode emitter
// consumes afterward.
//
// Every expression and statement node carries a ResolvedType field the
// resolver fills in; nodes left unresolved after an error keep
// types.Invalid so downstream passes degrade gracefully instead of
// cascading.
package ast

import (
	"smalls/pkg/diag"
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

// Node is implemented by every AST node so the three resolver passes
// can share one visitor shape.
type Node interface {
	Range() diag.Range
}

type base struct {
	Pos diag.Range
}

func (b base) Range() diag.Range { return b.Pos }

// ---- Type expressions ----

// TypeExprKind tags how a TypeExpr names a type before resolution.
type TypeExprKind int

const (
	TypeExprName TypeExprKind = iota // a bare identifier, possibly module-qualified
	TypeExprGeneric                   // Name!(args...)
	TypeExprArray                      // array!(T) or array!(T,N)
	TypeExprMap                        // map!(K,V)
	TypeExprFunction                   // fn(P1,...)->R
	TypeExprTuple                      // (T1,...,Tn)
	TypeExprParam                      // $name, a generic type parameter
)

// TypeExpr is an unresolved type expression as written in source.
// Resolved is filled in by the type resolver's signatures pass.
type TypeExpr struct {
	base
	Kind       TypeExprKind
	Name       string // for TypeExprName/TypeExprGeneric/TypeExprParam
	ModulePath string // set when Name is module-qualified
	Args       []*TypeExpr
	Size       int64 // fixed_array extent, or -1 if given as an expression
	SizeExpr   Expr  // non-nil when the extent is a const expression to fold
	Params     []*TypeExpr
	Ret        *TypeExpr

	Resolved types.Id
}

// ---- Declarations ----

// Decl is any top-level (module-level) declaration.
type Decl interface {
	Node
	declNode()
}

// Annotation is a bracketed `[[name(args...)]]` attribute on a
// function or type declaration.
type Annotation struct {
	Name string
	Args []string
}

func HasAnnotation(anns []Annotation, name string) bool {
	for _, a := range anns {
		if a.Name == name {
			return true
		}
	}
	return false
}

func FindAnnotation(anns []Annotation, name string) (Annotation, bool) {
	for _, a := range anns {
		if a.Name == name {
			return a, true
		}
	}
	return Annotation{}, false
}

// FieldDecl is one field of a struct declaration.
type FieldDecl struct {
	Name intern.Symbol
	Type *TypeExpr
}

// StructDecl declares `type Name!($T,...) = struct { ... }`.
type StructDecl struct {
	base
	Module        string
	Name          string
	GenericParams []string
	Fields        []FieldDecl
	ValueType     bool
	Native        bool
	Annotations   []Annotation

	TypeID types.Id
}

func (*StructDecl) declNode() {}

// VariantDecl is one arm of a sum declaration.
type VariantDecl struct {
	Name    intern.Symbol
	Payload []*TypeExpr // 0 = unit variant, 1 = single payload, 2+ = tuple payload
}

// SumDecl declares `type Name!($T,...) = V1(P1) | V2 | ...`.
type SumDecl struct {
	base
	Module        string
	Name          string
	GenericParams []string
	Variants      []VariantDecl

	TypeID types.Id
}

func (*SumDecl) declNode() {}

// AliasDecl declares `type Name = <other type>`.
type AliasDecl struct {
	base
	Module string
	Name   string
	Target *TypeExpr

	TypeID types.Id
}

func (*AliasDecl) declNode() {}

// NewtypeDecl declares `type Name = newtype(Base)`: a nominal wrapper
// convertible neither to nor from Base except via its constructor
//.
type NewtypeDecl struct {
	base
	Module string
	Name   string
	Base   *TypeExpr

	TypeID types.Id
}

func (*NewtypeDecl) declNode() {}

// OpaqueDecl declares a `[[native]]` opaque handle type with no
// script-visible structure.
type OpaqueDecl struct {
	base
	Module      string
	Name        string
	Annotations []Annotation

	TypeID types.Id
}

func (*OpaqueDecl) declNode() {}

// ParamDecl is one function parameter.
type ParamDecl struct {
	Name    intern.Symbol
	Type    *TypeExpr
	Default Expr // nil if no default

	ResolvedType types.Id
}

// FuncDecl declares a function, either top-level or a lambda turned
// into a synthetic declaration for capture analysis.
type FuncDecl struct {
	base
	Module        string
	Name          string
	GenericParams []string
	Params        []*ParamDecl
	ReturnType    *TypeExpr
	Body          *Block // nil for native/intrinsic
	Native        bool
	Intrinsic     bool
	Annotations   []Annotation

	// OperatorName is set when an [[operator(name[, commutative])]]
	// annotation was present.
	OperatorName       string
	OperatorCommutative bool

	ResolvedReturn types.Id
	ResolvedParams []types.Id

	// Populated by lambda capture analysis when this FuncDecl
	// represents a lambda literal rather than a top-level function
	//.
	Captures []Capture
}

func (*FuncDecl) declNode() {}

// Capture records one upvalue a lambda closes over.
type Capture struct {
	Name          intern.Symbol
	DeclaringDepth int  // function-stack index of the declaring scope
	IsUpvalue     bool // true when the captured name is itself an upvalue of the parent lambda
}

// VarDecl declares a module-level or local variable; DeclList members
// share one VarDecl-list node.
type VarDecl struct {
	base
	Module      string
	Name        intern.Symbol
	Type        *TypeExpr // nil when inferred from Init
	Init        Expr
	Const       bool

	ResolvedType types.Id
}

func (*VarDecl) declNode() {}

// DeclList groups several VarDecls declared together (`var a, b = ...`).
type DeclList struct {
	base
	Decls []*VarDecl
}

func (*DeclList) declNode() {}

// ImportKind distinguishes the two import forms.
type ImportKind int

const (
	ImportAliased  ImportKind = iota // import a.b as x
	ImportSelective                   // from a.b import {f, T}
)

// ImportDecl declares a module import.
type ImportDecl struct {
	base
	Kind       ImportKind
	ModulePath string
	Alias      string   // for ImportAliased
	Symbols    []string // for ImportSelective
}

func (*ImportDecl) declNode() {}

// Module is a compiled unit's top-level declaration list plus its
// name, matching the name resolver's "walks top-level declarations
// exactly once".
type Module struct {
	Name  string
	Decls []Decl
}
