package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalls/pkg/ast"
	"smalls/pkg/diag"
	"smalls/pkg/env"
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

type testUnit struct {
	in       *intern.Table
	registry *types.Registry
	sink     *diag.Sink
	resolver *Resolver
}

func newTestUnit(t *testing.T) *testUnit {
	t.Helper()
	in := intern.New()
	reg := types.New(in)
	sink := diag.New()
	return &testUnit{
		in:       in,
		registry: reg,
		sink:     sink,
		resolver: New("main", reg, in, sink, nil),
	}
}

func (u *testUnit) resolve(mod *ast.Module) {
	u.resolver.ResolveNames(mod)
	u.resolver.ResolveSignatures(mod)
	u.resolver.ResolveBodies(mod)
}

func namedType(name string) *ast.TypeExpr {
	return &ast.TypeExpr{Kind: ast.TypeExprName, Name: name}
}

func intLit(v int64) *ast.IntLit { return &ast.IntLit{Value: v} }

// optionSum builds `type Option = Some(int) | None`.
func optionSum(in *intern.Table) *ast.SumDecl {
	return &ast.SumDecl{
		Name: "Option",
		Variants: []ast.VariantDecl{
			{Name: in.Intern("Some"), Payload: []*ast.TypeExpr{namedType("int")}},
			{Name: in.Intern("None")},
		},
	}
}

func TestSumSwitchBindsPayload(t *testing.T) {
	u := newTestUnit(t)

	// fn f(x: Option): int { switch (x) { case Some(v): return v; case None: return 0; } }
	ret := &ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("v")}}
	fn := &ast.FuncDecl{
		Name:       "f",
		Params:     []*ast.ParamDecl{{Name: u.in.Intern("x"), Type: namedType("Option")}},
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.SwitchStmt{
				Kind:      ast.SwitchPattern,
				Scrutinee: &ast.Ident{Name: u.in.Intern("x")},
				Cases: []ast.SwitchCase{
					{
						Labels: []ast.CaseLabel{{VariantName: "Some", Bindings: []intern.Symbol{u.in.Intern("v")}}},
						Body:   []ast.Stmt{ret},
					},
					{
						Labels: []ast.CaseLabel{{VariantName: "None"}},
						Body:   []ast.Stmt{&ast.ReturnStmt{Value: intLit(0)}},
					},
				},
			},
		}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{optionSum(u.in), fn}})

	assert.False(t, u.sink.HasErrors(), "a complete pattern switch compiles with no diagnostics: %v", u.sink.Diagnostics())
	assert.Equal(t, types.Int, ret.Value.Type(), "Some(v) binds v at the payload's type")
}

func TestVariantConstructorRouting(t *testing.T) {
	u := newTestUnit(t)

	call := &ast.CallExpr{
		Callee: &ast.PathExpr{Base: &ast.Ident{Name: u.in.Intern("Option")}, Segments: []string{"Some"}},
		Args:   []ast.Expr{intLit(7)},
	}
	fn := &ast.FuncDecl{
		Name:       "g",
		ReturnType: namedType("Option"),
		Body:       &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: call}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{optionSum(u.in), fn}})

	assert.False(t, u.sink.HasErrors(), "%v", u.sink.Diagnostics())
	assert.Equal(t, "variant", call.Routing)

	optId, ok := u.registry.TypeId("main.Option")
	require.True(t, ok)
	assert.Equal(t, optId, call.Type())
}

func TestGenericFunctionInference(t *testing.T) {
	u := newTestUnit(t)

	// fn id!($T)(x: $T): $T { return x; }
	id := &ast.FuncDecl{
		Name:          "id",
		GenericParams: []string{"T"},
		Params:        []*ast.ParamDecl{{Name: u.in.Intern("x"), Type: &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"}}},
		ReturnType:    &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"},
		Body:          &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("x")}}}},
	}
	call := &ast.CallExpr{Callee: &ast.Ident{Name: u.in.Intern("id")}, Args: []ast.Expr{intLit(42)}}
	mainFn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("int"),
		Body:       &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: call}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{id, mainFn}})

	assert.False(t, u.sink.HasErrors(), "inference assigns $T = int: %v", u.sink.Diagnostics())
	assert.Equal(t, []types.Id{types.Int}, call.GenericArgs)
	assert.Equal(t, types.Int, call.Type())
}

func TestGenericInferenceMismatchAgainstDeclaredReturn(t *testing.T) {
	u := newTestUnit(t)

	id := &ast.FuncDecl{
		Name:          "id",
		GenericParams: []string{"T"},
		Params:        []*ast.ParamDecl{{Name: u.in.Intern("x"), Type: &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"}}},
		ReturnType:    &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"},
		Body:          &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("x")}}}},
	}
	call := &ast.CallExpr{Callee: &ast.Ident{Name: u.in.Intern("id")}, Args: []ast.Expr{&ast.FloatLit{Value: 1.5}}}
	mainFn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("int"),
		Body:       &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: call}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{id, mainFn}})

	assert.Equal(t, types.Float, call.Type(), "inference assigns $T = float")
	assert.True(t, u.sink.HasErrors(), "returning float from a declared-int main is a type mismatch")
}

func TestConflictingGenericInference(t *testing.T) {
	u := newTestUnit(t)

	pair := &ast.FuncDecl{
		Name:          "same",
		GenericParams: []string{"T"},
		Params: []*ast.ParamDecl{
			{Name: u.in.Intern("a"), Type: &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"}},
			{Name: u.in.Intern("b"), Type: &ast.TypeExpr{Kind: ast.TypeExprParam, Name: "T"}},
		},
		ReturnType: namedType("bool"),
		Body:       &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.BoolLit{Value: true}}}},
	}
	call := &ast.CallExpr{
		Callee: &ast.Ident{Name: u.in.Intern("same")},
		Args:   []ast.Expr{intLit(1), &ast.StringLit{Value: "x"}},
	}
	mainFn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("bool"),
		Body:       &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: call}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{pair, mainFn}})

	assert.True(t, u.sink.HasErrors(), "identical type-parameter names across parameters must unify")
}

func TestStructBraceInitForms(t *testing.T) {
	u := newTestUnit(t)

	structDecl := &ast.StructDecl{
		Name: "T",
		Fields: []ast.FieldDecl{
			{Name: u.in.Intern("x"), Type: namedType("int")},
			{Name: u.in.Intern("y"), Type: namedType("int")},
		},
	}
	fieldInit := &ast.BraceInit{
		TargetType: namedType("T"),
		Kind:       ast.BraceInitFields,
		Entries: []ast.BraceInitEntry{
			{FieldName: "x", Value: intLit(1)},
			{FieldName: "y", Value: intLit(2)},
		},
	}
	posInit := &ast.BraceInit{
		TargetType: namedType("T"),
		Kind:       ast.BraceInitPositional,
		Entries:    []ast.BraceInitEntry{{Value: intLit(3)}, {Value: intLit(4)}},
	}
	fn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.VarStmt{Decl: &ast.VarDecl{Name: u.in.Intern("t"), Type: namedType("T"), Init: fieldInit}},
			&ast.VarStmt{Decl: &ast.VarDecl{Name: u.in.Intern("u"), Type: namedType("T"), Init: posInit}},
			&ast.ReturnStmt{Value: intLit(5)},
		}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{structDecl, fn}})

	assert.False(t, u.sink.HasErrors(), "field and positional forms both resolve: %v", u.sink.Diagnostics())
	tid, _ := u.registry.TypeId("main.T")
	assert.Equal(t, tid, fieldInit.Type())
	assert.Equal(t, tid, posInit.Type())
}

func TestBraceInitMixedFormsIsOneError(t *testing.T) {
	u := newTestUnit(t)

	structDecl := &ast.StructDecl{
		Name: "T",
		Fields: []ast.FieldDecl{
			{Name: u.in.Intern("x"), Type: namedType("int")},
			{Name: u.in.Intern("y"), Type: namedType("int")},
		},
	}
	mixed := &ast.BraceInit{
		TargetType: namedType("T"),
		Kind:       ast.BraceInitFields,
		Entries: []ast.BraceInitEntry{
			{FieldName: "x", Value: intLit(1)},
			{Value: intLit(2)},
		},
	}
	fn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.VarStmt{Decl: &ast.VarDecl{Name: u.in.Intern("t"), Type: namedType("T"), Init: mixed}},
			&ast.ReturnStmt{Value: intLit(0)},
		}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{structDecl, fn}})

	errs := 0
	for _, d := range u.sink.Diagnostics() {
		if !d.IsWarning {
			errs++
		}
	}
	assert.Equal(t, 1, errs, "mixing field and positional forms emits one error")
}

func TestLambdaCaptureRecordsUpvalue(t *testing.T) {
	u := newTestUnit(t)

	// fn make_adder(n: int): fn(int): int { return fn(x: int): int { return x + n; }; }
	lambda := &ast.LambdaExpr{Decl: &ast.FuncDecl{
		Name:       "<lambda>",
		Params:     []*ast.ParamDecl{{Name: u.in.Intern("x"), Type: namedType("int")}},
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.BinaryExpr{
				Op:    "plus",
				Left:  &ast.Ident{Name: u.in.Intern("x")},
				Right: &ast.Ident{Name: u.in.Intern("n")},
			}},
		}},
	}}
	makeAdder := &ast.FuncDecl{
		Name:   "make_adder",
		Params: []*ast.ParamDecl{{Name: u.in.Intern("n"), Type: namedType("int")}},
		ReturnType: &ast.TypeExpr{
			Kind:   ast.TypeExprFunction,
			Params: []*ast.TypeExpr{namedType("int")},
			Ret:    namedType("int"),
		},
		Body: &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: lambda}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{makeAdder}})

	assert.False(t, u.sink.HasErrors(), "%v", u.sink.Diagnostics())
	require.Len(t, lambda.Decl.Captures, 1, "the lambda records exactly one capture")
	captured := lambda.Decl.Captures[0]
	assert.Equal(t, "n", u.in.Text(captured.Name))
	assert.Equal(t, 0, captured.DeclaringDepth, "declaring depth equals make_adder's function-stack index")
	assert.False(t, captured.IsUpvalue, "n is captured directly, not through an intermediate lambda")
}

func TestNestedLambdaCaptureChain(t *testing.T) {
	u := newTestUnit(t)

	inner := &ast.LambdaExpr{Decl: &ast.FuncDecl{
		Name:       "<inner>",
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("n")}},
		}},
	}}
	outer := &ast.LambdaExpr{Decl: &ast.FuncDecl{
		Name: "<outer>",
		ReturnType: &ast.TypeExpr{
			Kind: ast.TypeExprFunction,
			Ret:  namedType("int"),
		},
		Body: &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: inner}}},
	}}
	top := &ast.FuncDecl{
		Name:   "top",
		Params: []*ast.ParamDecl{{Name: u.in.Intern("n"), Type: namedType("int")}},
		ReturnType: &ast.TypeExpr{
			Kind: ast.TypeExprFunction,
			Ret:  &ast.TypeExpr{Kind: ast.TypeExprFunction, Ret: namedType("int")},
		},
		Body: &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: outer}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{top}})

	require.Len(t, outer.Decl.Captures, 1, "every intermediate lambda records the capture")
	require.Len(t, inner.Decl.Captures, 1)
	assert.False(t, outer.Decl.Captures[0].IsUpvalue)
	assert.True(t, inner.Decl.Captures[0].IsUpvalue, "the inner lambda sees n as its parent's upvalue")
}

func TestNewtypeConstructorAndMismatch(t *testing.T) {
	u := newTestUnit(t)

	userId := &ast.NewtypeDecl{Name: "UserId", Base: namedType("int")}
	groupId := &ast.NewtypeDecl{Name: "GroupId", Base: namedType("int")}
	ctor := &ast.CallExpr{Callee: &ast.Ident{Name: u.in.Intern("UserId")}, Args: []ast.Expr{intLit(1)}}
	fn := &ast.FuncDecl{
		Name:       "main",
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.VarStmt{Decl: &ast.VarDecl{Name: u.in.Intern("uid"), Type: namedType("UserId"), Init: ctor}},
			// var gid: GroupId = uid; same underlying base, different wrapper.
			&ast.VarStmt{Decl: &ast.VarDecl{Name: u.in.Intern("gid"), Type: namedType("GroupId"),
				Init: &ast.Ident{Name: u.in.Intern("uid")}}},
			&ast.ReturnStmt{Value: intLit(0)},
		}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{userId, groupId, fn}})

	assert.Equal(t, "newtype", ctor.Routing)
	assert.True(t, u.sink.HasErrors(), "a UserId is not convertible to GroupId despite the shared base")
}

func TestUnknownIdentifierSuggestsNearest(t *testing.T) {
	u := newTestUnit(t)

	fn := &ast.FuncDecl{
		Name:   "main",
		Params: []*ast.ParamDecl{{Name: u.in.Intern("counter"), Type: namedType("int")}},
		ReturnType: namedType("int"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("countre")}},
		}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{fn}})

	require.True(t, u.sink.HasErrors())
	found := false
	for _, d := range u.sink.Diagnostics() {
		if d.Suggestion == "counter" {
			found = true
		}
	}
	assert.True(t, found, "unknown-identifier errors carry a nearest-name suggestion")
}

func TestDuplicateDeclaration(t *testing.T) {
	u := newTestUnit(t)

	a := &ast.FuncDecl{Name: "f", ReturnType: namedType("void"), Body: &ast.Block{}}
	b := &ast.FuncDecl{Name: "f", ReturnType: namedType("void"), Body: &ast.Block{}}
	u.resolver.ResolveNames(&ast.Module{Name: "main", Decls: []ast.Decl{a, b}})

	assert.True(t, u.sink.HasErrors())
}

func TestOperatorAliasRegistration(t *testing.T) {
	u := newTestUnit(t)

	vec := &ast.StructDecl{
		Name:   "Vec",
		Fields: []ast.FieldDecl{{Name: u.in.Intern("x"), Type: namedType("int")}},
	}
	add := &ast.FuncDecl{
		Name: "vec_add",
		Params: []*ast.ParamDecl{
			{Name: u.in.Intern("a"), Type: namedType("Vec")},
			{Name: u.in.Intern("b"), Type: namedType("Vec")},
		},
		ReturnType:  namedType("Vec"),
		Annotations: []ast.Annotation{{Name: "operator", Args: []string{"plus", "commutative"}}},
		Body:        &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.Ident{Name: u.in.Intern("a")}}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{vec, add}})

	assert.False(t, u.sink.HasErrors(), "%v", u.sink.Diagnostics())
	vid, _ := u.registry.TypeId("main.Vec")
	entry, ok := u.registry.LookupBinaryOp("plus", vid, vid)
	require.True(t, ok)
	assert.Equal(t, vid, entry.Result)
	assert.Equal(t, "vec_add", entry.Func)
}

func TestOperatorEqSignatureEnforced(t *testing.T) {
	u := newTestUnit(t)

	bad := &ast.FuncDecl{
		Name:        "bad_eq",
		Params:      []*ast.ParamDecl{{Name: u.in.Intern("a"), Type: namedType("int")}},
		ReturnType:  namedType("bool"),
		Annotations: []ast.Annotation{{Name: "operator", Args: []string{"eq"}}},
		Body:        &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.BoolLit{Value: true}}}},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{bad}})

	assert.True(t, u.sink.HasErrors(), "eq requires signature (T, T) -> bool")
}

func TestGenericSumInstantiationList(t *testing.T) {
	u := newTestUnit(t)

	// type List!($T) = Cons($T, List!($T)) | Nil
	list := &ast.SumDecl{
		Name:          "List",
		GenericParams: []string{"T"},
		Variants: []ast.VariantDecl{
			{Name: u.in.Intern("Cons"), Payload: []*ast.TypeExpr{
				{Kind: ast.TypeExprParam, Name: "T"},
				{Kind: ast.TypeExprGeneric, Name: "List", Args: []*ast.TypeExpr{{Kind: ast.TypeExprParam, Name: "T"}}},
			}},
			{Name: u.in.Intern("Nil")},
		},
	}
	use := &ast.VarDecl{
		Name: u.in.Intern("xs"),
		Type: &ast.TypeExpr{
			Kind: ast.TypeExprGeneric, Name: "List",
			Args: []*ast.TypeExpr{namedType("int")},
		},
	}
	u.resolve(&ast.Module{Name: "main", Decls: []ast.Decl{list, use}})
	assert.False(t, u.sink.HasErrors(), "%v", u.sink.Diagnostics())

	base, ok := u.registry.TypeId("main.List")
	require.True(t, ok)
	inst1 := u.registry.GetOrInstantiate(base, []types.Id{types.Int})
	inst2 := u.registry.GetOrInstantiate(base, []types.Id{types.Int})
	assert.Equal(t, inst1, inst2, "instantiation is cached")
	assert.NotEqual(t, base, inst1)

	desc := u.registry.Descriptor(inst1)
	require.NotNil(t, desc.Sum)
	require.Len(t, desc.Sum.Variants, 2)
	assert.Equal(t, "Cons", u.in.Text(desc.Sum.Variants[0].Name))
}

func TestModuleImportSelective(t *testing.T) {
	u := newTestUnit(t)

	lib := env.New()
	lib.Define("helper", env.Export{Kind: env.ExportFunc, Type: types.Int, ProviderModule: "lib"})
	u.resolver.Loader = stubLoader{name: "lib", exports: lib}

	imp := &ast.ImportDecl{Kind: ast.ImportSelective, ModulePath: "lib", Symbols: []string{"helper", "missing"}}
	u.resolver.ResolveNames(&ast.Module{Name: "main", Decls: []ast.Decl{imp}})

	_, ok := u.resolver.Global.LookupLocal("helper")
	assert.True(t, ok, "selective import installs the named export")
	assert.True(t, u.sink.HasErrors(), "an unknown imported symbol is an error")
}

type stubLoader struct {
	name    string
	exports *env.Env
}

func (s stubLoader) LoadModule(path string) (*LoadedModule, error) {
	return &LoadedModule{Name: s.name, Exports: s.exports}, nil
}
