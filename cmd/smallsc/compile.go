package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"smalls/pkg/ast"
	"smalls/pkg/diag"
	"smalls/pkg/intern"
	"smalls/pkg/smalls"
	"smalls/pkg/types"
)

var (
	compileDumpRegistry bool
)

func init() {
	cmd := newCompileCmd()
	cmd.Flags().BoolVar(&compileDumpRegistry, "registry", false, "Dump the populated type registry after compiling")
	rootCmd.AddCommand(cmd)
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Run the analysis pipeline over the built-in self-check module",
		Long: `The compile command runs the name resolver, type resolver, and
validator over a small built-in module exercising a struct, a sum
with payloads, and a pattern switch, then reports diagnostics and the
module's type-registry contribution.

Example:
  smallsc compile
  smallsc compile --registry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile()
		},
	}
}

func runCompile() error {
	rt := smalls.NewRuntime()
	rt.SetLogger(newLogger())

	mod := selfCheckModule(rt)
	sink := diag.New()
	compiled, err := rt.Compile(mod, &smalls.CompileContext{Sink: sink, Debug: smalls.DebugFull})
	for _, d := range sink.Diagnostics() {
		fmt.Fprintln(os.Stderr, d)
	}
	if err != nil {
		return err
	}

	fmt.Printf("module %q: %d exports, type ids %d..%d\n",
		compiled.Name, len(compiled.Exports.LocalNames()),
		compiled.FirstTypeId, compiled.LastTypeId)

	if compileDumpRegistry {
		for id := types.Id(0); int(id) < rt.Registry.Len(); id++ {
			d := rt.Registry.Descriptor(id)
			fmt.Printf("%4d %-12s %s\n", id, d.Kind, rt.Interner.Text(d.Name))
		}
	}
	return nil
}

// selfCheckModule builds the AST the external parser would produce for
// a module covering the pipeline's main shapes: a struct, a sum with
// payloads, and a function pattern-switching over it.
func selfCheckModule(rt *smalls.Runtime) *ast.Module {
	in := rt.Interner

	point := &ast.StructDecl{
		Name: "Point",
		Fields: []ast.FieldDecl{
			{Name: in.Intern("x"), Type: &ast.TypeExpr{Kind: ast.TypeExprName, Name: "int"}},
			{Name: in.Intern("y"), Type: &ast.TypeExpr{Kind: ast.TypeExprName, Name: "int"}},
		},
	}

	option := &ast.SumDecl{
		Name: "Option",
		Variants: []ast.VariantDecl{
			{Name: in.Intern("Some"), Payload: []*ast.TypeExpr{{Kind: ast.TypeExprName, Name: "int"}}},
			{Name: in.Intern("None")},
		},
	}

	// fn unwrap(x: Option): int { switch (x) { case Some(v): return v; case None: return 0; } }
	unwrap := &ast.FuncDecl{
		Name: "unwrap",
		Params: []*ast.ParamDecl{
			{Name: in.Intern("x"), Type: &ast.TypeExpr{Kind: ast.TypeExprName, Name: "Option"}},
		},
		ReturnType: &ast.TypeExpr{Kind: ast.TypeExprName, Name: "int"},
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.SwitchStmt{
				Kind:      ast.SwitchPattern,
				Scrutinee: &ast.Ident{Name: in.Intern("x")},
				Cases: []ast.SwitchCase{
					{
						Labels: []ast.CaseLabel{{VariantName: "Some", Bindings: []intern.Symbol{in.Intern("v")}}},
						Body:   []ast.Stmt{&ast.ReturnStmt{Value: &ast.Ident{Name: in.Intern("v")}}},
					},
					{
						Labels: []ast.CaseLabel{{VariantName: "None"}},
						Body:   []ast.Stmt{&ast.ReturnStmt{Value: &ast.IntLit{Value: 0}}},
					},
				},
			},
		}},
	}

	return &ast.Module{Name: "selfcheck", Decls: []ast.Decl{point, option, unwrap}}
}
