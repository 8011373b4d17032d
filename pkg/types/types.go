// Package types implements the Smalls type registry: a dense-id type
// table that canonicalizes compound types structurally, caches generic
// instantiations, and records operator-alias metadata read by the
// resolver and validator.
package types

import "smalls/pkg/intern"

// Id is a dense 32-bit type id. Zero is Invalid.
type Id int32

// Reserved well-known ids. The assignment order is fixed so
// diagnostics referencing a type id stay stable across runs.
const (
	Invalid Id = iota
	Void
	Bool
	Int
	Float
	String
	Any
	AnyArray
	AnyMap
	Module
	Vec3
	firstUserId
)

// Kind tags a type descriptor's structural category.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindSum
	KindTuple
	KindNewtype
	KindAlias
	KindOpaque
	KindArray
	KindMap
	KindFixedArray
	KindFunction
	KindAnyArray
	KindAnyMap
	KindModule
)

func (k Kind) String() string {
	names := [...]string{
		"primitive", "struct", "sum", "tuple", "newtype", "type_alias",
		"opaque", "array", "map", "fixed_array", "function", "any_array",
		"any_map", "module",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// TypeParamKind distinguishes what a type_params slot holds.
type TypeParamKind uint8

const (
	ParamEmpty TypeParamKind = iota
	ParamType                // another Id
	ParamSize                // an integer size (fixed_array extent)
	ParamDef                 // a struct/sum/tuple-def id
)

// TypeParam is one slot of a descriptor's type_params vector.
type TypeParam struct {
	Kind TypeParamKind
	Type Id
	Size int64
	Def  int32 // index into Registry.structDefs/sumDefs, by Kind
}

// Field is one field of a struct definition.
type Field struct {
	Name   intern.Symbol
	Type   Id
	Offset int
}

// StructDef describes a struct or generic struct template.
type StructDef struct {
	Name          intern.Symbol
	Fields        []Field
	GenericParams int
	ValueType     bool
	// GenericBase is 0 for a template; for an instantiation it points
	// back at the id of the template this was instantiated from.
	GenericBase Id
	Args        []Id
}

// Variant is one arm of a sum type.
type Variant struct {
	Name    intern.Symbol
	Payload Id // Invalid if the variant carries no payload
}

// SumDef describes a sum type or generic sum template.
type SumDef struct {
	Name          intern.Symbol
	Variants      []Variant
	GenericParams int
	GenericBase   Id
	Args          []Id
}

// Descriptor is the per-id type record.
type Descriptor struct {
	Name             intern.Symbol
	Kind             Kind
	TypeParams       []TypeParam
	Size             int
	Align            int
	ContainsHeapRefs bool

	// Populated for the corresponding Kind.
	Struct   *StructDef
	Sum      *SumDef
	Tuple    []Id // element types, for KindTuple
	Array    Id   // element type, for KindArray/KindFixedArray
	FixedLen int64
	MapKey   Id
	MapValue Id
	FuncArgs []Id
	FuncRet  Id

	// Operator-alias summary, updated by RegisterOperatorAliasInfo.
	HasEq         bool
	HasExplicitEq bool
	HasLt         bool
	HasHash       bool
	HasStr        bool
}

// pointer-width accounting for value-kind size/align defaults.
const (
	wordSize = 8
)
