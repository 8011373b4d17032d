package types

import (
	"fmt"
	"strings"

	"smalls/pkg/intern"
)

// opKey identifies a registered script operator by operation name and
// operand type(s).
type opKey struct {
	op   string
	lhs  Id
	rhs  Id // Invalid for unary/str/hash
}

// OpEntry records where an operator alias was defined, for
// diagnostics and for the bytecode emitter (external) to resolve
// calls against.
type OpEntry struct {
	Result Id
	Module string
	Func   string
}

// Registry is the process-wide type table. It is written only by the
// resolver passes and is read-only at runtime.
type Registry struct {
	interner *intern.Table

	descriptors []Descriptor
	byName      map[intern.Symbol]Id

	// Structural canonicalization caches.
	compound    map[string]Id
	instantiate map[string]Id

	structDefs []*StructDef
	sumDefs    []*SumDef

	binaryOps map[opKey]OpEntry
	unaryOps  map[opKey]OpEntry
	strOps    map[opKey]OpEntry
	hashOps   map[opKey]OpEntry
}

// New constructs a registry with the reserved well-known ids already
// populated.
func New(interner *intern.Table) *Registry {
	r := &Registry{
		interner:    interner,
		byName:      make(map[intern.Symbol]Id),
		compound:    make(map[string]Id),
		instantiate: make(map[string]Id),
		binaryOps:   make(map[opKey]OpEntry),
		unaryOps:    make(map[opKey]OpEntry),
		strOps:      make(map[opKey]OpEntry),
		hashOps:     make(map[opKey]OpEntry),
	}

	reserve := func(id Id, name string, kind Kind, size, align int) {
		sym := interner.Intern(name)
		for Id(len(r.descriptors)) <= id {
			r.descriptors = append(r.descriptors, Descriptor{})
		}
		r.descriptors[id] = Descriptor{Name: sym, Kind: kind, Size: size, Align: align}
		r.byName[sym] = id
	}

	reserve(Invalid, "invalid", KindPrimitive, 0, 0)
	reserve(Void, "void", KindPrimitive, 0, 0)
	reserve(Bool, "bool", KindPrimitive, 1, 1)
	reserve(Int, "int", KindPrimitive, 8, 8)
	reserve(Float, "float", KindPrimitive, 8, 8)
	reserve(String, "string", KindPrimitive, wordSize, wordSize)
	reserve(Any, "any", KindPrimitive, wordSize, wordSize)
	reserve(AnyArray, "any_array", KindAnyArray, wordSize, wordSize)
	reserve(AnyMap, "any_map", KindAnyMap, wordSize, wordSize)
	reserve(Module, "module", KindModule, wordSize, wordSize)
	reserve(Vec3, "vector", KindPrimitive, 12, 4)

	r.descriptors[String].ContainsHeapRefs = true
	r.descriptors[Any].ContainsHeapRefs = true
	r.descriptors[AnyArray].ContainsHeapRefs = true
	r.descriptors[AnyMap].ContainsHeapRefs = true

	return r
}

// Reserve pre-declares a slot for qualified_name, used during name
// resolution before a type's declaration body has been resolved.
func (r *Registry) Reserve(qualifiedName string) Id {
	sym := r.interner.Intern(qualifiedName)
	if id, ok := r.byName[sym]; ok {
		return id
	}
	id := Id(len(r.descriptors))
	r.descriptors = append(r.descriptors, Descriptor{Name: sym})
	r.byName[sym] = id
	return id
}

// Define attaches a resolved descriptor to a previously reserved id.
func (r *Registry) Define(id Id, desc Descriptor) {
	name := r.descriptors[id].Name
	desc.Name = name
	r.descriptors[id] = desc
}

// TypeId looks up the id previously reserved or registered for name.
func (r *Registry) TypeId(name string) (Id, bool) {
	sym := r.interner.Intern(name)
	id, ok := r.byName[sym]
	return id, ok
}

// Descriptor returns the descriptor for id. Panics on an out-of-range
// id since every valid Id must have been reserved first.
func (r *Registry) Descriptor(id Id) Descriptor {
	return r.descriptors[id]
}

// Len reports how many ids have been assigned, including reserved
// well-known ones.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

func compoundKey(kind Kind, params []TypeParam) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", kind)
	for _, p := range params {
		switch p.Kind {
		case ParamType:
			fmt.Fprintf(&b, "|t%d", p.Type)
		case ParamSize:
			fmt.Fprintf(&b, "|s%d", p.Size)
		case ParamDef:
			fmt.Fprintf(&b, "|d%d", p.Def)
		default:
			b.WriteString("|_")
		}
	}
	return b.String()
}

// RegisterCompound canonicalizes array/map/fixed_array/function/tuple
// shapes: equal (kind, params) always returns the same id.
func (r *Registry) RegisterCompound(kind Kind, params []TypeParam) Id {
	key := compoundKey(kind, params)
	if id, ok := r.compound[key]; ok {
		return id
	}
	id := Id(len(r.descriptors))
	r.descriptors = append(r.descriptors, Descriptor{
		Kind:       kind,
		TypeParams: params,
		Size:       wordSize,
		Align:      wordSize,
	})
	r.compound[key] = id
	return id
}

// RegisterFunctionType canonicalizes a (params...) -> ret function
// type.
func (r *Registry) RegisterFunctionType(params []Id, ret Id) Id {
	tp := make([]TypeParam, 0, len(params)+1)
	for _, p := range params {
		tp = append(tp, TypeParam{Kind: ParamType, Type: p})
	}
	tp = append(tp, TypeParam{Kind: ParamType, Type: ret})
	id := r.RegisterCompound(KindFunction, tp)
	d := r.descriptors[id]
	if d.FuncArgs == nil {
		d.FuncArgs = append([]Id(nil), params...)
		d.FuncRet = ret
		d.ContainsHeapRefs = true
		r.descriptors[id] = d
	}
	return id
}

// RegisterTupleType canonicalizes a (T1,...,Tn) tuple type.
func (r *Registry) RegisterTupleType(elems []Id) Id {
	tp := make([]TypeParam, len(elems))
	for i, e := range elems {
		tp[i] = TypeParam{Kind: ParamType, Type: e}
	}
	id := r.RegisterCompound(KindTuple, tp)
	d := r.descriptors[id]
	if d.Tuple == nil {
		d.Tuple = append([]Id(nil), elems...)
		for _, e := range elems {
			if r.descriptors[e].ContainsHeapRefs {
				d.ContainsHeapRefs = true
				break
			}
		}
		r.descriptors[id] = d
	}
	return id
}

// RegisterArray canonicalizes array(T) (unsized) or array(T,N)
// (fixed_array).
func (r *Registry) RegisterArray(elem Id, size int64, fixed bool) Id {
	kind := KindArray
	params := []TypeParam{{Kind: ParamType, Type: elem}}
	if fixed {
		kind = KindFixedArray
		params = append(params, TypeParam{Kind: ParamSize, Size: size})
	}
	id := r.RegisterCompound(kind, params)
	d := r.descriptors[id]
	if d.Array == Invalid && elem != Invalid {
		d.Array = elem
		d.FixedLen = size
		d.ContainsHeapRefs = true
		r.descriptors[id] = d
	}
	return id
}

// RegisterMap canonicalizes map(K,V).
func (r *Registry) RegisterMap(key, value Id) Id {
	id := r.RegisterCompound(KindMap, []TypeParam{
		{Kind: ParamType, Type: key},
		{Kind: ParamType, Type: value},
	})
	d := r.descriptors[id]
	if d.MapKey == Invalid && key != Invalid {
		d.MapKey = key
		d.MapValue = value
		d.ContainsHeapRefs = true
		r.descriptors[id] = d
	}
	return id
}

// DefineStruct defines a struct/generic-struct-template descriptor at
// an id already reserved with Reserve.
func (r *Registry) DefineStruct(id Id, def *StructDef) {
	def.GenericBase = Invalid
	r.structDefs = append(r.structDefs, def)
	containsHeap := false
	size := 0
	for _, f := range def.Fields {
		if r.descriptors[f.Type].ContainsHeapRefs {
			containsHeap = true
		}
	}
	r.Define(id, Descriptor{
		Kind:             KindStruct,
		Struct:           def,
		Size:             size,
		Align:            wordSize,
		ContainsHeapRefs: containsHeap,
	})
}

// DefineSum defines a sum/generic-sum-template descriptor at an id
// already reserved with Reserve.
func (r *Registry) DefineSum(id Id, def *SumDef) {
	def.GenericBase = Invalid
	r.sumDefs = append(r.sumDefs, def)
	r.Define(id, Descriptor{
		Kind:             KindSum,
		Sum:              def,
		Size:             wordSize * 2, // tag + payload slot
		Align:            wordSize,
		ContainsHeapRefs: true,
	})
}

func instantiationKey(generic Id, args []Id) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", generic)
	for _, a := range args {
		fmt.Fprintf(&b, "|%d", a)
	}
	return b.String()
}

// GetOrInstantiate returns the canonical id for instantiating a
// generic struct/sum at genericId with the given type arguments.
// Calling it twice with the same (genericId, args) returns the same
// id.
//
// The resolver owns $name substitution and completes the returned
// descriptor through FillInstantiatedFields/Variants; this function
// owns only the identity and caching contract.
func (r *Registry) GetOrInstantiate(genericId Id, args []Id) Id {
	key := instantiationKey(genericId, args)
	if id, ok := r.instantiate[key]; ok {
		return id
	}
	desc := r.descriptors[genericId]
	id := Id(len(r.descriptors))
	switch desc.Kind {
	case KindStruct:
		base := desc.Struct
		inst := &StructDef{
			Name:          base.Name,
			GenericParams: 0,
			ValueType:     base.ValueType,
			GenericBase:   genericId,
			Args:          append([]Id(nil), args...),
		}
		r.descriptors = append(r.descriptors, Descriptor{})
		r.instantiate[key] = id
		r.structDefs = append(r.structDefs, inst)
		r.Define(id, Descriptor{Kind: KindStruct, Struct: inst, Align: wordSize})
		return id
	case KindSum:
		base := desc.Sum
		inst := &SumDef{
			Name:          base.Name,
			GenericParams: 0,
			GenericBase:   genericId,
			Args:          append([]Id(nil), args...),
		}
		r.descriptors = append(r.descriptors, Descriptor{})
		r.instantiate[key] = id
		r.sumDefs = append(r.sumDefs, inst)
		r.Define(id, Descriptor{Kind: KindSum, Sum: inst, Align: wordSize, Size: wordSize * 2, ContainsHeapRefs: true})
		return id
	default:
		// Not a generic template; instantiating it is a no-op identity.
		r.instantiate[key] = genericId
		return genericId
	}
}

// FillInstantiatedFields is called by the resolver once it has
// substituted $name parameters through a struct instantiation's field
// types, completing the descriptor GetOrInstantiate reserved.
func (r *Registry) FillInstantiatedFields(id Id, fields []Field) {
	d := r.descriptors[id]
	if d.Struct == nil {
		return
	}
	d.Struct.Fields = fields
	for _, f := range fields {
		if r.descriptors[f.Type].ContainsHeapRefs {
			d.ContainsHeapRefs = true
		}
	}
	r.descriptors[id] = d
}

// FillInstantiatedVariants is the sum-type analog of
// FillInstantiatedFields.
func (r *Registry) FillInstantiatedVariants(id Id, variants []Variant) {
	d := r.descriptors[id]
	if d.Sum == nil {
		return
	}
	d.Sum.Variants = variants
	r.descriptors[id] = d
}

// IsTypeConvertible reports whether a value of type actual may appear
// where expected is required. It is reflexive: IsTypeConvertible(t, t)
// is always true.
func (r *Registry) IsTypeConvertible(expected, actual Id) bool {
	if expected == actual {
		return true
	}
	if expected == Any {
		return true
	}
	expDesc := r.descriptors[expected]
	actDesc := r.descriptors[actual]

	if expected == AnyArray && actDesc.Kind == KindArray {
		return true
	}
	if expected == AnyMap && actDesc.Kind == KindMap {
		return true
	}
	if expDesc.Kind == KindFunction && actDesc.Kind == KindFunction {
		if len(expDesc.FuncArgs) != len(actDesc.FuncArgs) {
			return false
		}
		for i := range expDesc.FuncArgs {
			if !r.IsTypeConvertible(expDesc.FuncArgs[i], actDesc.FuncArgs[i]) {
				return false
			}
		}
		return r.IsTypeConvertible(expDesc.FuncRet, actDesc.FuncRet)
	}
	if expDesc.Kind == KindArray && actDesc.Kind == KindArray {
		if expDesc.Array == Any {
			return true
		}
	}
	if expDesc.Kind == KindMap && actDesc.Kind == KindMap {
		if expDesc.MapKey == Any && expDesc.MapValue == Any {
			return true
		}
	}
	return false
}

// RegisterOperatorAliasInfo updates the per-type-id alias summary bits
// (HasEq, HasExplicitEq, HasLt, HasHash, HasStr) consulted by the
// validator's operator-consistency check.
func (r *Registry) RegisterOperatorAliasInfo(id Id, opName string) {
	d := r.descriptors[id]
	switch opName {
	case "eq":
		d.HasEq = true
		d.HasExplicitEq = true
	case "lt":
		d.HasLt = true
	case "hash":
		d.HasHash = true
	case "str":
		d.HasStr = true
	}
	r.descriptors[id] = d
}

// RegisterScriptBinaryOp records a binary operator alias
// (plus/minus/times/div/eq/lt) in the script-operator table.
func (r *Registry) RegisterScriptBinaryOp(op string, lhs, rhs, result Id, module, funcName string) {
	r.binaryOps[opKey{op: op, lhs: lhs, rhs: rhs}] = OpEntry{Result: result, Module: module, Func: funcName}
	r.RegisterOperatorAliasInfo(lhs, op)
}

// RegisterScriptUnaryOp is the unary analog of RegisterScriptBinaryOp
// (plus/minus used as unary, or negation).
func (r *Registry) RegisterScriptUnaryOp(op string, operand, result Id, module, funcName string) {
	r.unaryOps[opKey{op: op, lhs: operand, rhs: Invalid}] = OpEntry{Result: result, Module: module, Func: funcName}
}

// RegisterScriptStrOp records a `str` operator alias for a type.
func (r *Registry) RegisterScriptStrOp(typ Id, module, funcName string) {
	r.strOps[opKey{op: "str", lhs: typ, rhs: Invalid}] = OpEntry{Result: String, Module: module, Func: funcName}
	r.RegisterOperatorAliasInfo(typ, "str")
}

// RegisterScriptHashOp records a `hash` operator alias for a type.
func (r *Registry) RegisterScriptHashOp(typ Id, module, funcName string) {
	r.hashOps[opKey{op: "hash", lhs: typ, rhs: Invalid}] = OpEntry{Result: Int, Module: module, Func: funcName}
	r.RegisterOperatorAliasInfo(typ, "hash")
}

// LookupBinaryOp resolves a previously registered binary operator
// alias by operand types.
func (r *Registry) LookupBinaryOp(op string, lhs, rhs Id) (OpEntry, bool) {
	e, ok := r.binaryOps[opKey{op: op, lhs: lhs, rhs: rhs}]
	return e, ok
}

// LookupUnaryOp resolves a previously registered unary operator alias.
func (r *Registry) LookupUnaryOp(op string, operand Id) (OpEntry, bool) {
	e, ok := r.unaryOps[opKey{op: op, lhs: operand, rhs: Invalid}]
	return e, ok
}

// LookupStrOp resolves a previously registered `str` operator alias.
func (r *Registry) LookupStrOp(typ Id) (OpEntry, bool) {
	e, ok := r.strOps[opKey{op: "str", lhs: typ, rhs: Invalid}]
	return e, ok
}

// LookupHashOp resolves a previously registered `hash` operator alias.
func (r *Registry) LookupHashOp(typ Id) (OpEntry, bool) {
	e, ok := r.hashOps[opKey{op: "hash", lhs: typ, rhs: Invalid}]
	return e, ok
}
