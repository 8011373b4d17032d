// Package resolve implements the Smalls name resolver (pass 1) and
// type resolver (pass 2): one top-to-bottom declaration walk that
// binds names and reserves type ids, then a signatures pass and a
// bodies pass that type every declaration and expression.
package resolve

import (
	"fmt"

	"smalls/pkg/ast"
	"smalls/pkg/diag"
	"smalls/pkg/env"
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

// LoadedModule is what the resource loader returns for an imported
// module path: its exports, keyed by local (unqualified) name.
type LoadedModule struct {
	Name    string
	Exports *env.Env
}

// ModuleLoader resolves an import declaration's module path to its
// exports.
type ModuleLoader interface {
	LoadModule(path string) (*LoadedModule, error)
}

// NativeRegistry is the native-function bridge the resolver consults
// for signature verification of declarations marked native. A nil
// registry skips verification.
type NativeRegistry interface {
	// NativeFunction returns the FFI-registered signature for
	// module.name, or ok=false if no such native function exists.
	NativeFunction(module, name string) (params []types.Id, ret types.Id, ok bool)
	// NativeType reports whether module.name is a registered
	// platform-native struct or opaque handle type.
	NativeType(module, name string) bool
}

// Limits bounds resolution work. Parser-level limits are the
// external front end's concern. The resolver checks
// MaxTypeInstantiations: past it, further generic type instantiations
// keep their ids but are not filled in, and no diagnostic is
// reported. MaxGenericFunctionInstantiations is not checked.
type Limits struct {
	MaxTypeInstantiations           int
	MaxGenericFunctionInstantiations int
}

// DefaultLimits are conservative defaults for a
// single-compilation-unit resolve pass.
var DefaultLimits = Limits{
	MaxTypeInstantiations:            4096,
	MaxGenericFunctionInstantiations: 4096,
}

// Resolver carries the shared state of the name and type resolver
// passes: the type registry, string interner, diagnostic sink, and
// the module-global environment they populate.
type Resolver struct {
	Module   string
	Registry *types.Registry
	Interner *intern.Table
	Sink     *diag.Sink
	Global   *env.Env
	Loader   ModuleLoader
	Natives  NativeRegistry
	Limits   Limits

	typeInstantiations  int
	funcInstantiations  int

	// funcStack tracks the function-body nesting for lambda capture
	// analysis; pushed and popped by the bodies pass.
	funcStack []*funcCtx

	// declsByTypeID maps a reserved type id back to the declaration
	// that reserved it, so the bodies pass can find a generic
	// template's field/variant shape when instantiating it.
	declsByTypeID map[types.Id]ast.Decl

	// instantiating guards recursive generics (List!($T) containing
	// List!($T)): an instantiation already being filled returns its id
	// without re-entering substitution.
	instantiating map[types.Id]bool

	// scopeOwner maps each scope layer created while resolving a
	// function/lambda body back to the function-stack depth that owns
	// it. pushScope records it; capture analysis (types.go) does not
	// read it and walks scope chains instead.
	scopeOwner map[*env.Env]int
}

// New constructs a Resolver for one compilation unit.
func New(module string, registry *types.Registry, interner *intern.Table, sink *diag.Sink, loader ModuleLoader) *Resolver {
	return &Resolver{
		Module:   module,
		Registry: registry,
		Interner: interner,
		Sink:     sink,
		Global:   env.New(),
		Loader:   loader,
		Limits:   DefaultLimits,

		declsByTypeID: make(map[types.Id]ast.Decl),
		instantiating: make(map[types.Id]bool),
		scopeOwner:    make(map[*env.Env]int),
	}
}

func (r *Resolver) qualify(name string) string {
	return env.QualifiedName(r.Module, name)
}

// ResolveNames runs the name resolver: walks every
// top-level declaration once, declaring its name globally and, for
// type-introducing declarations, reserving a type id under the
// qualified name.
func (r *Resolver) ResolveNames(mod *ast.Module) {
	for _, decl := range mod.Decls {
		r.resolveDeclName(decl)
	}
}

func (r *Resolver) resolveDeclName(decl ast.Decl) {
	switch d := decl.(type) {
	case *ast.StructDecl:
		d.Module = r.Module
		id := r.Registry.Reserve(r.qualify(d.Name))
		d.TypeID = id
		r.declsByTypeID[id] = d
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportType, Type: id, Decl: d, ProviderModule: r.Module}, d)
	case *ast.SumDecl:
		d.Module = r.Module
		id := r.Registry.Reserve(r.qualify(d.Name))
		d.TypeID = id
		r.declsByTypeID[id] = d
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportType, Type: id, Decl: d, ProviderModule: r.Module}, d)
	case *ast.AliasDecl:
		d.Module = r.Module
		id := r.Registry.Reserve(r.qualify(d.Name))
		d.TypeID = id
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportType, Type: id, Decl: d, ProviderModule: r.Module}, d)
	case *ast.NewtypeDecl:
		d.Module = r.Module
		id := r.Registry.Reserve(r.qualify(d.Name))
		d.TypeID = id
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportType, Type: id, Decl: d, ProviderModule: r.Module}, d)
	case *ast.OpaqueDecl:
		d.Module = r.Module
		id := r.Registry.Reserve(r.qualify(d.Name))
		d.TypeID = id
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportType, Type: id, Decl: d, ProviderModule: r.Module}, d)
	case *ast.FuncDecl:
		d.Module = r.Module
		r.defineOrDuplicate(d.Name, env.Export{Kind: env.ExportFunc, Type: types.Invalid, Decl: d, ProviderModule: r.Module}, d)
	case *ast.VarDecl:
		d.Module = r.Module
		r.defineOrDuplicate(r.Interner.Text(d.Name), env.Export{Kind: env.ExportVar, Type: types.Invalid, Decl: d, ProviderModule: r.Module}, d)
	case *ast.DeclList:
		for _, vd := range d.Decls {
			vd.Module = r.Module
			r.defineOrDuplicate(r.Interner.Text(vd.Name), env.Export{Kind: env.ExportVar, Type: types.Invalid, Decl: vd, ProviderModule: r.Module}, vd)
		}
	case *ast.ImportDecl:
		r.resolveImport(d)
	}
}

func (r *Resolver) defineOrDuplicate(name string, exp env.Export, node ast.Node) {
	if !r.Global.Define(name, exp) {
		r.Sink.Name(r.Module, fmt.Sprintf("duplicate declaration of %q", name), false, node.Range(), "")
	}
}

// resolveImport handles both import forms: aliased
// (`import a.b as x`) and selective (`from a.b import {f, T}`).
func (r *Resolver) resolveImport(d *ast.ImportDecl) {
	loaded, err := r.loadModule(d.ModulePath)
	if err != nil {
		r.Sink.Name(r.Module, fmt.Sprintf("failed to load module %q: %v", d.ModulePath, err), false, d.Range(), "")
		return
	}

	switch d.Kind {
	case ast.ImportAliased:
		r.defineOrDuplicate(d.Alias, env.Export{
			Kind:           env.ExportModuleAlias,
			ProviderModule: loaded.Name,
		}, d)
	case ast.ImportSelective:
		for _, sym := range d.Symbols {
			exp, ok := loaded.Exports.LookupLocal(sym)
			if !ok {
				suggestions := env.Suggest(loaded.Exports.LocalNames(), sym)
				suggestion := ""
				if len(suggestions) > 0 {
					suggestion = suggestions[0]
				}
				r.Sink.Name(r.Module, fmt.Sprintf("module %q has no export %q", d.ModulePath, sym), false, d.Range(), suggestion)
				continue
			}
			r.defineOrDuplicate(sym, exp, d)
		}
	}
}

func (r *Resolver) loadModule(path string) (*LoadedModule, error) {
	if r.Loader == nil {
		return nil, fmt.Errorf("no module loader configured")
	}
	return r.Loader.LoadModule(path)
}
