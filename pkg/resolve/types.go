package resolve

import (
	"fmt"

	"smalls/pkg/ast"
	"smalls/pkg/consteval"
	"smalls/pkg/env"
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

// funcCtx tracks one function body's resolution context: its declared
// and inferred return types and the scope layer the function's
// parameters were pushed into.
type funcCtx struct {
	decl              *ast.FuncDecl
	declaredReturn    types.Id
	hasDeclaredReturn bool
	inferredReturn    types.Id
	scope             *env.Env
}

// ResolveSignatures runs the type resolver's first sub-pass:
// resolves every declared type shape without visiting any function
// body.
func (r *Resolver) ResolveSignatures(mod *ast.Module) {
	for _, decl := range mod.Decls {
		r.resolveSignature(decl)
	}
}

func (r *Resolver) resolveSignature(decl ast.Decl) {
	switch d := decl.(type) {
	case *ast.StructDecl:
		r.resolveStructSignature(d)
	case *ast.SumDecl:
		r.resolveSumSignature(d)
	case *ast.AliasDecl:
		target := r.resolveTypeExpr(d.Target, nil)
		r.Registry.Define(d.TypeID, types.Descriptor{Kind: types.KindAlias, Array: target})
	case *ast.NewtypeDecl:
		base := r.resolveTypeExpr(d.Base, nil)
		desc := r.Registry.Descriptor(base)
		r.Registry.Define(d.TypeID, types.Descriptor{
			Kind:             types.KindNewtype,
			Array:            base, // the wrapped base type id
			Size:             desc.Size,
			Align:            desc.Align,
			ContainsHeapRefs: desc.ContainsHeapRefs,
		})
	case *ast.OpaqueDecl:
		if !ast.HasAnnotation(d.Annotations, "native") {
			r.Sink.Type(r.Module, fmt.Sprintf("opaque type %q must be annotated native", d.Name), false, d.Range())
		} else if r.Natives != nil && !r.Natives.NativeType(r.Module, d.Name) {
			r.Sink.Type(r.Module, fmt.Sprintf("opaque type %q is not registered with the runtime", d.Name), false, d.Range())
		}
		r.Registry.Define(d.TypeID, types.Descriptor{Kind: types.KindOpaque, Size: 8, Align: 8})
	case *ast.FuncDecl:
		r.resolveFuncSignature(d)
	case *ast.VarDecl:
		r.resolveVarSignature(d)
	case *ast.DeclList:
		for _, vd := range d.Decls {
			r.resolveVarSignature(vd)
		}
	}
}

func (r *Resolver) genericScopeFor(params []string) map[string]types.Id {
	if len(params) == 0 {
		return nil
	}
	scope := make(map[string]types.Id, len(params))
	for _, p := range params {
		scope[p] = r.Registry.Reserve("$" + r.Module + "." + p)
	}
	return scope
}

func (r *Resolver) resolveStructSignature(d *ast.StructDecl) {
	genScope := r.genericScopeFor(d.GenericParams)
	fields := make([]types.Field, len(d.Fields))
	offset := 0
	for i, f := range d.Fields {
		ft := r.resolveTypeExpr(f.Type, genScope)
		fields[i] = types.Field{Name: f.Name, Type: ft, Offset: offset}
		offset += r.Registry.Descriptor(ft).Size
	}
	r.Registry.DefineStruct(d.TypeID, &types.StructDef{
		Name:          r.Interner.Intern(d.Name),
		Fields:        fields,
		GenericParams: len(d.GenericParams),
		ValueType:     d.ValueType,
	})
	if d.Native && r.Natives != nil && !r.Natives.NativeType(r.Module, d.Name) {
		r.Sink.Type(r.Module, fmt.Sprintf("native struct %q has no registered platform layout", d.Name), false, d.Range())
	}
}

func (r *Resolver) resolveSumSignature(d *ast.SumDecl) {
	genScope := r.genericScopeFor(d.GenericParams)
	seen := make(map[string]bool, len(d.Variants))
	variants := make([]types.Variant, len(d.Variants))
	for i, v := range d.Variants {
		name := r.Interner.Text(v.Name)
		if seen[name] {
			r.Sink.Type(r.Module, fmt.Sprintf("duplicate variant %q in sum %q", name, d.Name), false, d.Range())
		}
		seen[name] = true

		payload := types.Invalid
		switch len(v.Payload) {
		case 0:
			payload = types.Invalid
		case 1:
			payload = r.resolveTypeExpr(v.Payload[0], genScope)
		default:
			elems := make([]types.Id, len(v.Payload))
			for j, p := range v.Payload {
				elems[j] = r.resolveTypeExpr(p, genScope)
			}
			payload = r.Registry.RegisterTupleType(elems)
		}
		variants[i] = types.Variant{Name: v.Name, Payload: payload}
	}
	r.Registry.DefineSum(d.TypeID, &types.SumDef{
		Name:          r.Interner.Intern(d.Name),
		Variants:      variants,
		GenericParams: len(d.GenericParams),
	})
}

var validOperatorNames = map[string]bool{
	"plus": true, "minus": true, "times": true, "div": true,
	"eq": true, "lt": true, "str": true, "hash": true,
}

func (r *Resolver) resolveFuncSignature(d *ast.FuncDecl) {
	genScope := r.genericScopeFor(d.GenericParams)

	paramTypes := make([]types.Id, len(d.Params))
	for i, p := range d.Params {
		p.ResolvedType = r.resolveTypeExpr(p.Type, genScope)
		paramTypes[i] = p.ResolvedType
		if p.Default != nil {
			if _, ok := p.Default.(*ast.IntLit); !ok {
				if _, ok := consteval.EvalInt(p.Default, nil); !ok {
					if _, ok := p.Default.(*ast.StringLit); !ok {
						r.Sink.Type(r.Module, fmt.Sprintf("default value for parameter %q must be a constant expression", r.Interner.Text(p.Name)), false, p.Default.Range())
					}
				}
			}
		}
	}
	d.ResolvedParams = paramTypes
	d.ResolvedReturn = r.resolveTypeExpr(d.ReturnType, genScope)

	if d.Native && d.Intrinsic {
		r.Sink.Type(r.Module, fmt.Sprintf("function %q cannot be both native and intrinsic", d.Name), false, d.Range())
	}
	hasAnnotationBody := d.Native || d.Intrinsic
	if hasAnnotationBody && d.Body != nil {
		r.Sink.Type(r.Module, fmt.Sprintf("native/intrinsic function %q must not have a body", d.Name), false, d.Range())
	}
	if !hasAnnotationBody && d.Body == nil {
		r.Sink.Type(r.Module, fmt.Sprintf("function %q requires a body", d.Name), false, d.Range())
	}

	if d.Native && r.Natives != nil {
		params, ret, ok := r.Natives.NativeFunction(r.Module, d.Name)
		switch {
		case !ok:
			r.Sink.Type(r.Module, fmt.Sprintf("native function %q is not registered with the runtime", d.Name), false, d.Range())
		case len(params) != len(paramTypes) || ret != d.ResolvedReturn:
			r.Sink.Type(r.Module, fmt.Sprintf("native function %q does not match its registered signature", d.Name), false, d.Range())
		default:
			for i := range params {
				if params[i] != paramTypes[i] {
					r.Sink.Type(r.Module, fmt.Sprintf("native function %q does not match its registered signature", d.Name), false, d.Range())
					break
				}
			}
		}
	}

	if op, ok := ast.FindAnnotation(d.Annotations, "operator"); ok {
		r.registerOperatorAlias(d, op)
	}
}

func (r *Resolver) registerOperatorAlias(d *ast.FuncDecl, op ast.Annotation) {
	if len(op.Args) == 0 || !validOperatorNames[op.Args[0]] {
		r.Sink.Type(r.Module, fmt.Sprintf("unknown operator alias name in %q", d.Name), false, d.Range())
		return
	}
	name := op.Args[0]
	commutative := len(op.Args) > 1 && op.Args[1] == "commutative"
	d.OperatorName = name
	d.OperatorCommutative = commutative

	switch name {
	case "eq", "lt":
		if len(d.ResolvedParams) != 2 || d.ResolvedParams[0] != d.ResolvedParams[1] || d.ResolvedReturn != types.Bool {
			r.Sink.Type(r.Module, fmt.Sprintf("operator %q must have signature (T, T) -> bool", name), false, d.Range())
			return
		}
		r.Registry.RegisterScriptBinaryOp(name, d.ResolvedParams[0], d.ResolvedParams[1], types.Bool, r.Module, d.Name)
	case "hash":
		if len(d.ResolvedParams) != 1 || d.ResolvedReturn != types.Int {
			r.Sink.Type(r.Module, "operator hash must have signature (T) -> int", false, d.Range())
			return
		}
		r.Registry.RegisterScriptHashOp(d.ResolvedParams[0], r.Module, d.Name)
	case "str":
		if len(d.ResolvedParams) != 1 || d.ResolvedReturn != types.String {
			r.Sink.Type(r.Module, "operator str must have signature (T) -> string", false, d.Range())
			return
		}
		r.Registry.RegisterScriptStrOp(d.ResolvedParams[0], r.Module, d.Name)
	case "plus", "minus", "times", "div":
		switch len(d.ResolvedParams) {
		case 1:
			r.Registry.RegisterScriptUnaryOp(name, d.ResolvedParams[0], d.ResolvedReturn, r.Module, d.Name)
		case 2:
			r.Registry.RegisterScriptBinaryOp(name, d.ResolvedParams[0], d.ResolvedParams[1], d.ResolvedReturn, r.Module, d.Name)
			if commutative {
				r.Registry.RegisterScriptBinaryOp(name, d.ResolvedParams[1], d.ResolvedParams[0], d.ResolvedReturn, r.Module, d.Name)
			}
		default:
			r.Sink.Type(r.Module, fmt.Sprintf("operator %q must be unary or binary", name), false, d.Range())
		}
	}
}

func (r *Resolver) resolveVarSignature(d *ast.VarDecl) {
	if d.Type != nil {
		d.ResolvedType = r.resolveTypeExpr(d.Type, nil)
	}
}

// resolveTypeExpr resolves an unresolved type expression to a
// registry id, consulting genScope for bare `$name` type parameters
//.
func (r *Resolver) resolveTypeExpr(te *ast.TypeExpr, genScope map[string]types.Id) types.Id {
	if te == nil {
		return types.Void
	}
	var id types.Id
	switch te.Kind {
	case ast.TypeExprParam:
		if genScope != nil {
			if gid, ok := genScope[te.Name]; ok {
				id = gid
				break
			}
		}
		id = r.Registry.Reserve("$" + te.Name)
	case ast.TypeExprName:
		id = r.resolveNamedType(te, genScope)
	case ast.TypeExprGeneric:
		base := r.resolveNamedType(&ast.TypeExpr{Kind: ast.TypeExprName, Name: te.Name, ModulePath: te.ModulePath}, genScope)
		args := make([]types.Id, len(te.Args))
		for i, a := range te.Args {
			args[i] = r.resolveTypeExpr(a, genScope)
		}
		id = r.instantiateGeneric(base, args)
	case ast.TypeExprArray:
		elem := r.resolveTypeExpr(te.Args[0], genScope)
		if te.SizeExpr != nil {
			if n, ok := consteval.EvalInt(te.SizeExpr, nil); ok {
				te.Size = n
			}
		}
		id = r.Registry.RegisterArray(elem, te.Size, te.Size > 0 || te.SizeExpr != nil)
	case ast.TypeExprMap:
		key := r.resolveTypeExpr(te.Args[0], genScope)
		val := r.resolveTypeExpr(te.Args[1], genScope)
		id = r.Registry.RegisterMap(key, val)
	case ast.TypeExprFunction:
		params := make([]types.Id, len(te.Params))
		for i, p := range te.Params {
			params[i] = r.resolveTypeExpr(p, genScope)
		}
		ret := r.resolveTypeExpr(te.Ret, genScope)
		id = r.Registry.RegisterFunctionType(params, ret)
	case ast.TypeExprTuple:
		elems := make([]types.Id, len(te.Args))
		for i, a := range te.Args {
			elems[i] = r.resolveTypeExpr(a, genScope)
		}
		id = r.Registry.RegisterTupleType(elems)
	default:
		id = types.Invalid
	}
	te.Resolved = id
	return id
}

func (r *Resolver) resolveNamedType(te *ast.TypeExpr, genScope map[string]types.Id) types.Id {
	if genScope != nil {
		if gid, ok := genScope[te.Name]; ok {
			return gid
		}
	}
	name := te.Name
	if te.ModulePath != "" {
		name = env.QualifiedName(te.ModulePath, te.Name)
	} else {
		name = env.QualifiedName(r.Module, te.Name)
	}
	if id, ok := r.Registry.TypeId(name); ok {
		return id
	}
	if id, ok := r.Registry.TypeId(te.Name); ok {
		return id
	}
	r.Sink.Type(r.Module, fmt.Sprintf("unknown type %q", te.Name), false, te.Range())
	return types.Invalid
}

// instantiateGeneric resolves a generic struct/sum instantiation,
// substituting the template's field/variant types through a
// temporary snapshot/restore of each TypeExpr's Resolved id, so the
// generic template stays reusable afterwards.
func (r *Resolver) instantiateGeneric(base types.Id, args []types.Id) types.Id {
	desc := r.Registry.Descriptor(base)
	id := r.Registry.GetOrInstantiate(base, args)
	if id == base {
		return id // not a generic template
	}
	if r.instantiating[id] {
		return id
	}
	r.instantiating[id] = true
	defer delete(r.instantiating, id)
	r.typeInstantiations++
	if r.typeInstantiations > r.Limits.MaxTypeInstantiations {
		return id
	}

	switch desc.Kind {
	case types.KindStruct:
		structDecl := r.findDeclByTypeID(base)
		sd, ok := structDecl.(*ast.StructDecl)
		if !ok {
			return id
		}
		if len(r.Registry.Descriptor(id).Struct.Fields) > 0 || len(sd.Fields) == 0 {
			return id // already filled (or no fields to fill)
		}
		genScope := make(map[string]types.Id, len(sd.GenericParams))
		for i, p := range sd.GenericParams {
			genScope[p] = args[i]
		}
		fields := make([]types.Field, len(sd.Fields))
		offset := 0
		for i, f := range sd.Fields {
			snapshot := f.Type.Resolved
			ft := r.resolveTypeExpr(f.Type, genScope)
			fields[i] = types.Field{Name: f.Name, Type: ft, Offset: offset}
			offset += r.Registry.Descriptor(ft).Size
			f.Type.Resolved = snapshot
		}
		r.Registry.FillInstantiatedFields(id, fields)
	case types.KindSum:
		sumDecl := r.findDeclByTypeID(base)
		sd, ok := sumDecl.(*ast.SumDecl)
		if !ok {
			return id
		}
		if len(r.Registry.Descriptor(id).Sum.Variants) > 0 {
			return id
		}
		genScope := make(map[string]types.Id, len(sd.GenericParams))
		for i, p := range sd.GenericParams {
			genScope[p] = args[i]
		}
		variants := make([]types.Variant, len(sd.Variants))
		for i, v := range sd.Variants {
			payload := types.Invalid
			switch len(v.Payload) {
			case 0:
			case 1:
				snapshot := v.Payload[0].Resolved
				payload = r.resolveTypeExpr(v.Payload[0], genScope)
				v.Payload[0].Resolved = snapshot
			default:
				elems := make([]types.Id, len(v.Payload))
				for j, p := range v.Payload {
					snapshot := p.Resolved
					elems[j] = r.resolveTypeExpr(p, genScope)
					p.Resolved = snapshot
				}
				payload = r.Registry.RegisterTupleType(elems)
			}
			variants[i] = types.Variant{Name: v.Name, Payload: payload}
		}
		r.Registry.FillInstantiatedVariants(id, variants)
	}
	return id
}

// findDeclByTypeID returns the declaration that reserved id, from the
// declsByTypeID map populated as ResolveNames runs (names.go).
func (r *Resolver) findDeclByTypeID(id types.Id) ast.Decl {
	if r.declsByTypeID == nil {
		return nil
	}
	return r.declsByTypeID[id]
}

// ---- bodies pass ----

// ResolveBodies runs the type resolver's second sub-pass: visits
// every function's body under a scope stack seeded with its
// parameters.
func (r *Resolver) ResolveBodies(mod *ast.Module) {
	for _, decl := range mod.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Body != nil {
			r.resolveFuncBody(fd)
		}
	}
}

func (r *Resolver) resolveFuncBody(d *ast.FuncDecl) {
	ctx := &funcCtx{decl: d, declaredReturn: d.ResolvedReturn, hasDeclaredReturn: true}
	r.funcStack = append(r.funcStack, ctx)
	scope := r.pushScope(r.Global)
	for _, p := range d.Params {
		scope.Define(r.Interner.Text(p.Name), env.Export{Kind: env.ExportVar, Type: p.ResolvedType})
	}
	ctx.scope = scope
	r.resolveBlock(d.Body, scope)
	r.funcStack = r.funcStack[:len(r.funcStack)-1]
}

func (r *Resolver) currentFunc() *funcCtx {
	if len(r.funcStack) == 0 {
		return nil
	}
	return r.funcStack[len(r.funcStack)-1]
}

// pushScope creates a child scope layer and records which
// function-stack depth owns it.
func (r *Resolver) pushScope(parent *env.Env) *env.Env {
	s := parent.Push()
	r.scopeOwner[s] = len(r.funcStack) - 1
	return s
}

func (r *Resolver) resolveBlock(b *ast.Block, scope *env.Env) {
	inner := r.pushScope(scope)
	for _, stmt := range b.Stmts {
		r.resolveStmt(stmt, inner)
	}
}

func (r *Resolver) resolveStmt(stmt ast.Stmt, scope *env.Env) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		r.resolveExpr(s.Expr, scope)
	case *ast.VarStmt:
		r.resolveLocalVar(s.Decl, scope)
	case *ast.AssignStmt:
		r.resolveExpr(s.Target, scope)
		r.resolveExpr(s.Value, scope)
		if id, ok := s.Target.(*ast.Ident); ok {
			if exp, found := scope.Lookup(r.Interner.Text(id.Name)); found {
				if vd, ok := exp.Decl.(*ast.VarDecl); ok && vd.Const {
					r.Sink.Type(r.Module, fmt.Sprintf("cannot assign to const binding %q", r.Interner.Text(id.Name)), false, s.Range())
				}
			}
		}
	case *ast.ReturnStmt:
		var retType types.Id = types.Void
		if s.Value != nil {
			retType = r.resolveExpr(s.Value, scope)
		}
		if fn := r.currentFunc(); fn != nil {
			if fn.hasDeclaredReturn && fn.declaredReturn != types.Invalid {
				if !r.Registry.IsTypeConvertible(fn.declaredReturn, retType) {
					r.Sink.Type(r.Module, fmt.Sprintf("return type mismatch: expected %s, got %s",
						r.Registry.Descriptor(fn.declaredReturn).Kind, r.Registry.Descriptor(retType).Kind), false, s.Range())
				}
			} else {
				fn.inferredReturn = retType
			}
		}
	case *ast.IfStmt:
		r.resolveExpr(s.Cond, scope)
		r.resolveBlock(s.Then, scope)
		if s.Else != nil {
			r.resolveStmt(s.Else, scope)
		}
	case *ast.ForStmt:
		iterType := r.resolveExpr(s.Iter, scope)
		inner := r.pushScope(scope)
		elemType := types.Invalid
		if d := r.Registry.Descriptor(iterType); d.Kind == types.KindArray || d.Kind == types.KindFixedArray {
			elemType = d.Array
		}
		inner.Define(r.Interner.Text(s.Var), env.Export{Kind: env.ExportVar, Type: elemType})
		for _, st := range s.Body.Stmts {
			r.resolveStmt(st, inner)
		}
	case *ast.WhileStmt:
		r.resolveExpr(s.Cond, scope)
		r.resolveBlock(s.Body, scope)
	case *ast.SwitchStmt:
		r.resolveSwitch(s, scope)
	case *ast.Block:
		r.resolveBlock(s, scope)
	}
}

func (r *Resolver) resolveLocalVar(d *ast.VarDecl, scope *env.Env) {
	var initType types.Id = types.Invalid
	if d.Init != nil {
		initType = r.resolveExpr(d.Init, scope)
	}
	if d.Type != nil {
		d.ResolvedType = r.resolveTypeExpr(d.Type, nil)
		if d.Init != nil && d.ResolvedType != types.Invalid && initType != types.Invalid &&
			!r.Registry.IsTypeConvertible(d.ResolvedType, initType) {
			r.Sink.Type(r.Module, fmt.Sprintf("cannot initialize %q: incompatible types", r.Interner.Text(d.Name)), false, d.Range())
		}
	} else {
		d.ResolvedType = initType
	}
	if !scope.Define(r.Interner.Text(d.Name), env.Export{Kind: env.ExportVar, Type: d.ResolvedType, Decl: d}) {
		r.Sink.Name(r.Module, fmt.Sprintf("duplicate declaration of %q", r.Interner.Text(d.Name)), false, d.Range(), "")
	}
}

func (r *Resolver) resolveSwitch(s *ast.SwitchStmt, scope *env.Env) {
	scrutType := r.resolveExpr(s.Scrutinee, scope)
	scrutDesc := r.Registry.Descriptor(scrutType)
	for i := range s.Cases {
		caseScope := r.pushScope(scope)
		for li := range s.Cases[i].Labels {
			label := &s.Cases[i].Labels[li]
			if label.IsDefault {
				continue
			}
			if s.Kind == ast.SwitchPattern && scrutDesc.Sum != nil {
				for _, variant := range scrutDesc.Sum.Variants {
					if r.Interner.Text(variant.Name) != label.VariantName {
						continue
					}
					r.bindPatternLabel(label, variant, caseScope)
				}
			} else if label.Value != nil {
				r.resolveExpr(label.Value, scope)
			}
			if label.Guard != nil {
				r.resolveExpr(label.Guard, caseScope)
			}
		}
		for _, st := range s.Cases[i].Body {
			r.resolveStmt(st, caseScope)
		}
	}
}

func (r *Resolver) bindPatternLabel(label *ast.CaseLabel, variant types.Variant, scope *env.Env) {
	if variant.Payload == types.Invalid || len(label.Bindings) == 0 {
		return
	}
	payloadDesc := r.Registry.Descriptor(variant.Payload)
	if payloadDesc.Kind == types.KindTuple && len(payloadDesc.Tuple) == len(label.Bindings) {
		for i, b := range label.Bindings {
			scope.Define(r.Interner.Text(b), env.Export{Kind: env.ExportVar, Type: payloadDesc.Tuple[i]})
		}
		return
	}
	if len(label.Bindings) == 1 {
		scope.Define(r.Interner.Text(label.Bindings[0]), env.Export{Kind: env.ExportVar, Type: variant.Payload})
	}
}

// resolveExpr resolves expr's type under scope, recording lambda
// captures along the way, and returns its resolved type id.
func (r *Resolver) resolveExpr(expr ast.Expr, scope *env.Env) types.Id {
	if expr == nil {
		return types.Void
	}
	switch e := expr.(type) {
	case *ast.IntLit:
		e.SetType(types.Int)
	case *ast.FloatLit:
		e.SetType(types.Float)
	case *ast.StringLit:
		e.SetType(types.String)
	case *ast.BoolLit:
		e.SetType(types.Bool)
	case *ast.Ident:
		r.resolveIdent(e, scope)
	case *ast.UnaryExpr:
		operand := r.resolveExpr(e.Operand, scope)
		e.SetType(r.resolveUnaryOp(e, operand))
	case *ast.BinaryExpr:
		lhs := r.resolveExpr(e.Left, scope)
		rhs := r.resolveExpr(e.Right, scope)
		e.SetType(r.resolveBinaryOp(e, lhs, rhs))
	case *ast.TupleExpr:
		elems := make([]types.Id, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = r.resolveExpr(el, scope)
		}
		e.SetType(r.Registry.RegisterTupleType(elems))
	case *ast.IndexExpr:
		recv := r.resolveExpr(e.Recv, scope)
		r.resolveExpr(e.Index, scope)
		d := r.Registry.Descriptor(recv)
		switch d.Kind {
		case types.KindArray, types.KindFixedArray:
			e.SetType(d.Array)
		case types.KindMap:
			e.SetType(d.MapValue)
		default:
			e.SetType(types.Invalid)
		}
	case *ast.PathExpr:
		r.resolvePathExpr(e, scope)
	case *ast.CallExpr:
		r.resolveCallExpr(e, scope)
	case *ast.BraceInit:
		r.resolveBraceInit(e, scope, types.Invalid)
	case *ast.LambdaExpr:
		r.resolveLambda(e, scope)
	default:
		return types.Invalid
	}
	return expr.Type()
}

func (r *Resolver) resolveIdent(e *ast.Ident, scope *env.Env) {
	name := r.Interner.Text(e.Name)
	owner, exp, found := r.lookupWithOwner(scope, name)
	if !found {
		suggestions := env.SuggestIn(scope, name)
		suggestion := ""
		if len(suggestions) > 0 {
			suggestion = suggestions[0]
		}
		r.Sink.Name(r.Module, fmt.Sprintf("unable to resolve identifier %q", name), false, e.Range(), suggestion)
		e.SetType(types.Invalid)
		return
	}
	e.Binding = exp.Kind.String()
	e.SetType(exp.Type)
	r.recordCaptureIfNeeded(name, owner)
}

// lookupWithOwner searches scope's chain and returns the layer that
// owns the binding, for lambda capture analysis.
func (r *Resolver) lookupWithOwner(scope *env.Env, name string) (*env.Env, env.Export, bool) {
	for s := scope; s != nil; s = s.Parent() {
		if exp, ok := s.LookupLocal(name); ok {
			return s, exp, true
		}
	}
	return nil, env.Export{}, false
}

// recordCaptureIfNeeded records a capture at every intermediate
// lambda when owner's declaring scope lies outside the current
// lambda's base scope and is not a module global.
func (r *Resolver) recordCaptureIfNeeded(name string, owner *env.Env) {
	if owner == nil || owner == r.Global || len(r.funcStack) == 0 {
		return
	}
	declaringDepth := -1
	for i := len(r.funcStack) - 1; i >= 0; i-- {
		if scopeContains(owner, r.funcStack[i].scope) {
			declaringDepth = i
			break
		}
	}
	if declaringDepth < 0 {
		return
	}
	currentDepth := len(r.funcStack) - 1
	if declaringDepth == currentDepth {
		return
	}
	sym := r.Interner.Intern(name)
	for depth := declaringDepth + 1; depth <= currentDepth; depth++ {
		fn := r.funcStack[depth]
		if hasCaptureOf(fn.decl.Captures, sym) {
			continue
		}
		fn.decl.Captures = append(fn.decl.Captures, ast.Capture{
			Name:           sym,
			DeclaringDepth: declaringDepth,
			IsUpvalue:      depth > declaringDepth+1,
		})
	}
}

func hasCaptureOf(caps []ast.Capture, sym intern.Symbol) bool {
	for _, c := range caps {
		if c.Name == sym {
			return true
		}
	}
	return false
}

// scopeContains reports whether owner lies on base's ancestor chain:
// base itself or anything enclosing it. Capture analysis calls it
// with a binding's scope as base to find the innermost function whose
// parameter scope encloses that binding.
func scopeContains(base *env.Env, owner *env.Env) bool {
	for s := base; s != nil; s = s.Parent() {
		if s == owner {
			return true
		}
	}
	return false
}

func (r *Resolver) resolveLambda(e *ast.LambdaExpr, scope *env.Env) {
	d := e.Decl
	genScope := map[string]types.Id(nil)
	for _, p := range d.Params {
		if p.ResolvedType == types.Invalid && p.Type != nil {
			p.ResolvedType = r.resolveTypeExpr(p.Type, genScope)
		}
	}
	hasDeclaredReturn := d.ReturnType != nil
	declaredReturn := types.Invalid
	if hasDeclaredReturn {
		declaredReturn = r.resolveTypeExpr(d.ReturnType, genScope)
	}

	ctx := &funcCtx{decl: d, declaredReturn: declaredReturn, hasDeclaredReturn: hasDeclaredReturn}
	r.funcStack = append(r.funcStack, ctx)
	lambdaScope := r.pushScope(scope)
	for _, p := range d.Params {
		lambdaScope.Define(r.Interner.Text(p.Name), env.Export{Kind: env.ExportVar, Type: p.ResolvedType})
	}
	ctx.scope = lambdaScope
	if d.Body != nil {
		r.resolveBlock(d.Body, lambdaScope)
	}
	r.funcStack = r.funcStack[:len(r.funcStack)-1]

	ret := declaredReturn
	if !hasDeclaredReturn {
		ret = ctx.inferredReturn
		d.ResolvedReturn = ret
	}
	params := make([]types.Id, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.ResolvedType
	}
	d.ResolvedParams = params
	e.SetType(r.Registry.RegisterFunctionType(params, ret))
}

func (r *Resolver) resolvePathExpr(e *ast.PathExpr, scope *env.Env) {
	baseType := r.resolveExpr(e.Base, scope)
	e.ResolvedKinds = make([]ast.PathSegmentKind, 0, len(e.Segments))

	// Module-qualified lookup: base is an Ident bound to a
	// module_alias import.
	if ident, ok := e.Base.(*ast.Ident); ok && ident.Binding == env.ExportModuleAlias.String() && len(e.Segments) > 0 {
		name := r.Interner.Text(ident.Name)
		if _, exp, found := r.lookupWithOwner(scope, name); found {
			loaded, err := r.loadModule(exp.ProviderModule)
			if err == nil {
				if memberExp, ok := loaded.Exports.LookupLocal(e.Segments[0]); ok {
					e.SetType(memberExp.Type)
					e.ResolvedKinds = append(e.ResolvedKinds, ast.PathSegModuleMember)
					return
				}
			}
			suggestions := []string{}
			if err == nil {
				suggestions = env.Suggest(loaded.Exports.LocalNames(), e.Segments[0])
			}
			s := ""
			if len(suggestions) > 0 {
				s = suggestions[0]
			}
			r.Sink.Name(r.Module, fmt.Sprintf("module %q has no member %q", exp.ProviderModule, e.Segments[0]), false, e.Range(), s)
		}
		e.SetType(types.Invalid)
		return
	}

	// Sum-variant unit access: `Sum.Variant` where base names a sum
	// type.
	if ident, ok := e.Base.(*ast.Ident); ok && ident.Binding == env.ExportType.String() && len(e.Segments) == 1 {
		desc := r.Registry.Descriptor(baseType)
		if desc.Sum != nil {
			for _, v := range desc.Sum.Variants {
				if r.Interner.Text(v.Name) == e.Segments[0] {
					e.SetType(baseType)
					e.ResolvedKinds = append(e.ResolvedKinds, ast.PathSegVariant)
					return
				}
			}
		}
	}

	// Struct field member access chain.
	cur := baseType
	for _, seg := range e.Segments {
		desc := r.Registry.Descriptor(cur)
		found := false
		if desc.Struct != nil {
			for _, f := range desc.Struct.Fields {
				if r.Interner.Text(f.Name) == seg {
					cur = f.Type
					found = true
					e.ResolvedKinds = append(e.ResolvedKinds, ast.PathSegField)
					break
				}
			}
		}
		if !found {
			r.Sink.Type(r.Module, fmt.Sprintf("no field %q on this type", seg), false, e.Range())
			e.SetType(types.Invalid)
			return
		}
	}
	e.SetType(cur)
}

func (r *Resolver) resolveUnaryOp(e *ast.UnaryExpr, operand types.Id) types.Id {
	if operand == types.Int || operand == types.Float {
		return operand
	}
	if operand == types.Bool && e.Op == "not" {
		return types.Bool
	}
	if entry, ok := r.Registry.LookupUnaryOp(e.Op, operand); ok {
		return entry.Result
	}
	r.Sink.Type(r.Module, fmt.Sprintf("invalid operand type for unary %q", e.Op), false, e.Range())
	return types.Invalid
}

func (r *Resolver) resolveBinaryOp(e *ast.BinaryExpr, lhs, rhs types.Id) types.Id {
	switch e.Op {
	case "eq", "neq", "lt", "lte", "gt", "gte":
		if lhs == rhs || r.Registry.IsTypeConvertible(lhs, rhs) {
			return types.Bool
		}
		if entry, ok := r.Registry.LookupBinaryOp("eq", lhs, rhs); ok {
			return entry.Result
		}
	case "and", "or":
		if lhs == types.Bool && rhs == types.Bool {
			return types.Bool
		}
	default:
		if lhs == types.Int && rhs == types.Int {
			return types.Int
		}
		if (lhs == types.Float || lhs == types.Int) && (rhs == types.Float || rhs == types.Int) {
			return types.Float
		}
		if lhs == types.String && rhs == types.String && e.Op == "plus" {
			return types.String
		}
		if entry, ok := r.Registry.LookupBinaryOp(e.Op, lhs, rhs); ok {
			return entry.Result
		}
	}
	r.Sink.Type(r.Module, fmt.Sprintf("invalid operand types for operator %q", e.Op), false, e.Range())
	return types.Invalid
}

// resolveCallExpr routes a call through the four forms, in priority
// order: variant constructor, newtype constructor, str/hash operator
// routing, ordinary function call.
func (r *Resolver) resolveCallExpr(e *ast.CallExpr, scope *env.Env) {
	argTypes := make([]types.Id, len(e.Args))
	for i, a := range e.Args {
		argTypes[i] = r.resolveExpr(a, scope)
	}

	if path, ok := e.Callee.(*ast.PathExpr); ok {
		if ident, ok := path.Base.(*ast.Ident); ok && len(path.Segments) == 1 {
			if exp, _, found := r.lookupWithOwnerByName(scope, r.Interner.Text(ident.Name)); found && exp.Kind == env.ExportType {
				if r.routeVariantConstructor(e, exp.Type, path.Segments[0], argTypes) {
					return
				}
			}
		}
	}

	if ident, ok := e.Callee.(*ast.Ident); ok {
		name := r.Interner.Text(ident.Name)
		if exp, _, found := r.lookupWithOwnerByName(scope, name); found {
			if exp.Kind == env.ExportType {
				desc := r.Registry.Descriptor(exp.Type)
				if desc.Kind == types.KindNewtype && len(e.Args) == 1 {
					e.Routing = "newtype"
					e.SetType(exp.Type)
					if !r.Registry.IsTypeConvertible(desc.Array, argTypes[0]) {
						r.Sink.Type(r.Module, fmt.Sprintf("newtype %q constructor argument mismatch", name), false, e.Range())
					}
					return
				}
			}
			if exp.Kind == env.ExportFunc {
				r.routeFunctionCall(e, exp, name, argTypes)
				return
			}
		}

		if name == "str" || name == "hash" {
			if len(argTypes) == 1 {
				e.Routing = "operator"
				if name == "str" {
					if v, ok := r.Registry.LookupStrOp(argTypes[0]); ok {
						e.SetType(v.Result)
						return
					}
					e.SetType(types.String)
					return
				}
				if v, ok := r.Registry.LookupHashOp(argTypes[0]); ok {
					e.SetType(v.Result)
					return
				}
				e.SetType(types.Int)
				return
			}
		}
	}

	// Fallback: resolve the callee expression generically (e.g. a
	// lambda value held in a variable) and call through its function
	// type.
	calleeType := r.resolveExpr(e.Callee, scope)
	desc := r.Registry.Descriptor(calleeType)
	e.Routing = "function"
	if desc.Kind == types.KindFunction {
		if len(desc.FuncArgs) != len(argTypes) {
			r.Sink.Type(r.Module, "argument count mismatch", false, e.Range())
		}
		e.SetType(desc.FuncRet)
		return
	}
	e.SetType(types.Invalid)
}

func (r *Resolver) lookupWithOwnerByName(scope *env.Env, name string) (env.Export, *env.Env, bool) {
	owner, exp, found := r.lookupWithOwner(scope, name)
	return exp, owner, found
}

func (r *Resolver) routeVariantConstructor(e *ast.CallExpr, sumType types.Id, variantName string, argTypes []types.Id) bool {
	desc := r.Registry.Descriptor(sumType)
	if desc.Sum == nil {
		return false
	}
	for _, v := range desc.Sum.Variants {
		if r.Interner.Text(v.Name) != variantName {
			continue
		}
		e.Routing = "variant"
		e.SetType(sumType)
		payloadDesc := r.Registry.Descriptor(v.Payload)
		switch {
		case v.Payload == types.Invalid:
			if len(argTypes) != 0 {
				r.Sink.Type(r.Module, fmt.Sprintf("variant %q takes no payload", variantName), false, e.Range())
			}
		case payloadDesc.Kind == types.KindTuple:
			if len(argTypes) != len(payloadDesc.Tuple) {
				r.Sink.Type(r.Module, fmt.Sprintf("variant %q argument count mismatch", variantName), false, e.Range())
			}
		default:
			if len(argTypes) != 1 {
				r.Sink.Type(r.Module, fmt.Sprintf("variant %q argument count mismatch", variantName), false, e.Range())
			}
		}
		return true
	}
	return false
}

func (r *Resolver) routeFunctionCall(e *ast.CallExpr, exp env.Export, name string, argTypes []types.Id) {
	e.Routing = "function"
	fd, ok := exp.Decl.(*ast.FuncDecl)
	if !ok {
		// Declaration details were dropped (source_map debug level);
		// resolve against the compact ABI summary instead.
		if abi := exp.FunctionABI; abi != nil {
			r.routeABICall(e, abi, name, argTypes)
			return
		}
		e.SetType(exp.Type)
		return
	}
	if len(fd.GenericParams) > 0 {
		r.resolveGenericCall(e, fd, argTypes)
		return
	}
	if len(fd.ResolvedParams) != len(argTypes) {
		r.Sink.Type(r.Module, fmt.Sprintf("function %q: argument count mismatch", name), false, e.Range())
	} else {
		for i, pt := range fd.ResolvedParams {
			if !r.Registry.IsTypeConvertible(pt, argTypes[i]) {
				pname := ""
				if i < len(fd.Params) {
					pname = r.Interner.Text(fd.Params[i].Name)
				}
				r.Sink.Type(r.Module, fmt.Sprintf("function %q: argument type mismatch for parameter %q", name, pname), false, e.Range())
			}
		}
	}
	e.SetType(fd.ResolvedReturn)
}

// routeABICall checks a call against an imported function's ABI
// summary. Generic ABIs skip per-parameter checks: their parameter
// slots are type-parameter ids with no argument-side meaning here.
func (r *Resolver) routeABICall(e *ast.CallExpr, abi *env.FunctionABI, name string, argTypes []types.Id) {
	if len(argTypes) < abi.MinArity || len(argTypes) > abi.MaxArity {
		r.Sink.Type(r.Module, fmt.Sprintf("function %q: argument count mismatch", name), false, e.Range())
	} else if abi.GenericArity == 0 {
		for i, at := range argTypes {
			if i < len(abi.ParamTypes) && !r.Registry.IsTypeConvertible(abi.ParamTypes[i], at) {
				r.Sink.Type(r.Module, fmt.Sprintf("function %q: argument type mismatch", name), false, e.Range())
			}
		}
	}
	e.SetType(abi.ReturnType)
}

// resolveGenericCall unifies each parameter's declared
// type-parameter name against the corresponding argument type, then
// substitutes the result through the return type.
func (r *Resolver) resolveGenericCall(e *ast.CallExpr, fd *ast.FuncDecl, argTypes []types.Id) {
	r.funcInstantiations++
	inferred := make(map[string]types.Id, len(fd.GenericParams))
	var unresolved []string

	for i, p := range fd.Params {
		if i >= len(argTypes) {
			break
		}
		if p.Type == nil || p.Type.Kind != ast.TypeExprParam {
			continue
		}
		name := p.Type.Name
		if existing, ok := inferred[name]; ok {
			if existing != argTypes[i] {
				r.Sink.Type(r.Module, fmt.Sprintf("conflicting inference for generic parameter %q", name), false, e.Range())
			}
			continue
		}
		inferred[name] = argTypes[i]
	}

	for _, gp := range fd.GenericParams {
		if _, ok := inferred[gp]; !ok {
			unresolved = append(unresolved, gp)
		}
	}
	if len(unresolved) > 0 {
		r.Sink.Type(r.Module, fmt.Sprintf("unable to infer generic parameter(s) %v for function %q", unresolved, fd.Name), false, e.Range())
		e.SetType(types.Invalid)
		return
	}

	genArgs := make([]types.Id, 0, len(inferred))
	for _, gp := range fd.GenericParams {
		genArgs = append(genArgs, inferred[gp])
	}
	e.GenericArgs = genArgs

	retType := fd.ResolvedReturn
	if fd.ReturnType != nil && fd.ReturnType.Kind == ast.TypeExprParam {
		snapshot := fd.ReturnType.Resolved
		retType = r.resolveTypeExpr(fd.ReturnType, inferred)
		fd.ReturnType.Resolved = snapshot
	}
	e.SetType(retType)
}

// resolveBraceInit resolves the three initializer forms (positional,
// named fields, key-value), propagating outer type context down to
// nested items.
func (r *Resolver) resolveBraceInit(e *ast.BraceInit, scope *env.Env, outer types.Id) {
	target := outer
	if e.TargetType != nil {
		target = r.resolveTypeExpr(e.TargetType, nil)
	}
	e.SetType(target)
	desc := r.Registry.Descriptor(target)

	hasPositional, hasNamed := false, false
	for _, ent := range e.Entries {
		if ent.FieldName != "" {
			hasNamed = true
		} else if ent.Key == nil {
			hasPositional = true
		}
	}
	if hasPositional && hasNamed {
		r.Sink.Type(r.Module, "brace initializer mixes positional and named entries", false, e.Range())
	}

	switch {
	case desc.Struct != nil:
		if e.Kind == ast.BraceInitKeyValue {
			r.Sink.Type(r.Module, "struct initializer cannot use key-value form", false, e.Range())
		}
		for i, ent := range e.Entries {
			fieldType := types.Invalid
			if ent.FieldName != "" {
				for _, f := range desc.Struct.Fields {
					if r.Interner.Text(f.Name) == ent.FieldName {
						fieldType = f.Type
					}
				}
			} else if i < len(desc.Struct.Fields) {
				fieldType = desc.Struct.Fields[i].Type
			}
			r.resolveNestedInitEntry(ent.Value, scope, fieldType)
		}
	case desc.Kind == types.KindFixedArray:
		if e.Kind != ast.BraceInitPositional {
			r.Sink.Type(r.Module, "fixed array initializer accepts only positional form", false, e.Range())
		}
		for _, ent := range e.Entries {
			r.resolveNestedInitEntry(ent.Value, scope, desc.Array)
		}
	case desc.Kind == types.KindArray:
		for _, ent := range e.Entries {
			r.resolveNestedInitEntry(ent.Value, scope, desc.Array)
		}
	case desc.Kind == types.KindMap:
		if e.Kind != ast.BraceInitKeyValue {
			r.Sink.Type(r.Module, "map initializer accepts only key-value form", false, e.Range())
		}
		for _, ent := range e.Entries {
			if ent.Key != nil {
				r.resolveNestedInitEntry(ent.Key, scope, desc.MapKey)
			}
			r.resolveNestedInitEntry(ent.Value, scope, desc.MapValue)
		}
	default:
		for _, ent := range e.Entries {
			r.resolveExpr(ent.Value, scope)
		}
	}
}

func (r *Resolver) resolveNestedInitEntry(value ast.Expr, scope *env.Env, expected types.Id) {
	if bi, ok := value.(*ast.BraceInit); ok {
		r.resolveBraceInit(bi, scope, expected)
		return
	}
	r.resolveExpr(value, scope)
}
