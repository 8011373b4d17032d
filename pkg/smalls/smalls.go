// Package smalls wires the analysis passes and the runtime together:
// the compilation entry, the runtime constructor owning the managed
// heap, collector, type registry, and global environment, and the
// native-module registry consulted by the resolver.
package smalls

import (
	"fmt"
	"io"
	"log/slog"

	"smalls/pkg/arena"
	"smalls/pkg/ast"
	"smalls/pkg/diag"
	"smalls/pkg/env"
	"smalls/pkg/gc"
	"smalls/pkg/heap"
	"smalls/pkg/intern"
	"smalls/pkg/resolve"
	"smalls/pkg/types"
	"smalls/pkg/validate"
)

// DebugLevel controls how much of a compiled module's declaration
// detail is retained.
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugSourceMap
	DebugFull
)

// Limits bounds one compilation. Parser-side limits (MaxASTNodes,
// MaxParseDepth) are enforced by the external front end; they travel
// in the context so the front end and resolver read them from one
// place.
type Limits struct {
	MaxASTNodes                      int
	MaxParseDepth                    int
	MaxTypeInstantiations            int
	MaxGenericFunctionInstantiations int
}

// DefaultLimits mirrors resolve.DefaultLimits plus front-end defaults.
var DefaultLimits = Limits{
	MaxASTNodes:                      1 << 20,
	MaxParseDepth:                    256,
	MaxTypeInstantiations:            resolve.DefaultLimits.MaxTypeInstantiations,
	MaxGenericFunctionInstantiations: resolve.DefaultLimits.MaxGenericFunctionInstantiations,
}

// CompileContext carries one compilation's sink, limits, and debug
// level.
type CompileContext struct {
	Sink   *diag.Sink
	Limits Limits
	Debug  DebugLevel
	Loader resolve.ModuleLoader
}

// CompiledModule is the compilation result: the module's AST (full
// debug) or nil (source-map and below), its exports, and the type-id
// range it contributed to the registry.
type CompiledModule struct {
	Name    string
	AST     *ast.Module
	Exports *env.Env

	// FirstTypeId..LastTypeId (exclusive) is this module's
	// contribution to the type registry.
	FirstTypeId types.Id
	LastTypeId  types.Id
}

// NativeFunction describes one FFI-registered function signature the
// resolver verifies `[[native]]` declarations against.
type NativeFunction struct {
	Params []types.Id
	Return types.Id
}

// NativeModule is a native-function/opaque-type interface description
// installed with RegisterNativeModule.
type NativeModule struct {
	Name      string
	Functions map[string]NativeFunction
	Types     map[string]bool // native struct layouts and opaque handle types
}

// Runtime owns the process-wide pieces of a Smalls instance: the
// interner, type registry, managed heap, collector, global
// environment, and the native-module registry. They travel through
// this one explicit context rather than free-function singletons.
type Runtime struct {
	Interner  *intern.Table
	Registry  *types.Registry
	Heap      *heap.Heap
	Collector *gc.Collector
	Globals   *env.Env

	natives map[string]*NativeModule
	modules map[string]*CompiledModule
	arenas  []*arena.Arena

	log *slog.Logger
}

// NewRuntime constructs the managed heap, collector, type registry,
// and global environment.
func NewRuntime() *Runtime {
	interner := intern.New()
	h := heap.New()
	rt := &Runtime{
		Interner:  interner,
		Registry:  types.New(interner),
		Heap:      h,
		Collector: gc.New(h),
		Globals:   env.New(),
		natives:   make(map[string]*NativeModule),
		modules:   make(map[string]*CompiledModule),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return rt
}

// SetLogger installs a structured logger for compilation and GC-cycle
// events; by default both are discarded.
func (rt *Runtime) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	rt.log = l
	rt.Collector.SetLogger(l)
}

// RegisterNativeModule installs a native interface description
// consulted by the resolver.
func (rt *Runtime) RegisterNativeModule(name string, iface *NativeModule) {
	iface.Name = name
	rt.natives[name] = iface
}

// GetNativeModule retrieves a previously registered native module.
func (rt *Runtime) GetNativeModule(name string) (*NativeModule, bool) {
	m, ok := rt.natives[name]
	return m, ok
}

// NativeFunction implements resolve.NativeRegistry over the runtime's
// installed native modules.
func (rt *Runtime) NativeFunction(module, name string) ([]types.Id, types.Id, bool) {
	m, ok := rt.natives[module]
	if !ok {
		return nil, types.Invalid, false
	}
	fn, ok := m.Functions[name]
	if !ok {
		return nil, types.Invalid, false
	}
	return fn.Params, fn.Return, true
}

// NativeType implements resolve.NativeRegistry.
func (rt *Runtime) NativeType(module, name string) bool {
	m, ok := rt.natives[module]
	return ok && m.Types[name]
}

// AddArena registers a config arena's tracked slots as a GC root
// source, scanned at every mark-roots phase.
func (rt *Runtime) AddArena(a *arena.Arena) {
	rt.arenas = append(rt.arenas, a)
	rt.Collector.AddRootProvider(func() []heap.Ptr {
		var roots []heap.Ptr
		a.EnumerateRoots(func(p heap.Ptr) {
			if p != heap.Null {
				roots = append(roots, p)
			}
		})
		return roots
	})
}

// LoadModule implements resolve.ModuleLoader over the runtime's
// already-installed modules, so selective and aliased imports resolve
// against previously compiled units without a resource layer.
func (rt *Runtime) LoadModule(path string) (*resolve.LoadedModule, error) {
	m, ok := rt.modules[path]
	if !ok {
		return nil, fmt.Errorf("module %q is not installed", path)
	}
	return &resolve.LoadedModule{Name: m.Name, Exports: m.Exports}, nil
}

// Compile runs the three analysis passes over an already-parsed module
// (lexing and parsing happen in the external front end) and
// installs the result on success. On error the module is not installed
// and the sink holds the diagnostics.
func (rt *Runtime) Compile(mod *ast.Module, ctx *CompileContext) (*CompiledModule, error) {
	if ctx == nil {
		ctx = &CompileContext{}
	}
	if ctx.Sink == nil {
		ctx.Sink = diag.New()
	}
	if ctx.Limits == (Limits{}) {
		ctx.Limits = DefaultLimits
	}
	loader := ctx.Loader
	if loader == nil {
		loader = rt
	}

	firstId := types.Id(rt.Registry.Len())

	r := resolve.New(mod.Name, rt.Registry, rt.Interner, ctx.Sink, loader)
	r.Natives = rt
	r.Limits = resolve.Limits{
		MaxTypeInstantiations:            ctx.Limits.MaxTypeInstantiations,
		MaxGenericFunctionInstantiations: ctx.Limits.MaxGenericFunctionInstantiations,
	}

	rt.log.Debug("compile start", "module", mod.Name, "decls", len(mod.Decls))

	r.ResolveNames(mod)
	r.ResolveSignatures(mod)
	r.ResolveBodies(mod)

	v := validate.New(mod.Name, rt.Registry, rt.Interner, ctx.Sink)
	v.Validate(mod)

	if ctx.Sink.HasErrors() {
		rt.log.Debug("compile failed", "module", mod.Name, "diagnostics", len(ctx.Sink.Diagnostics()))
		return nil, fmt.Errorf("module %q did not compile", mod.Name)
	}

	compiled := &CompiledModule{
		Name:        mod.Name,
		Exports:     rt.buildExports(r.Global, ctx.Debug),
		FirstTypeId: firstId,
		LastTypeId:  types.Id(rt.Registry.Len()),
	}
	if ctx.Debug == DebugFull {
		compiled.AST = mod
	}
	rt.modules[mod.Name] = compiled
	rt.log.Debug("compile done", "module", mod.Name,
		"types", int(compiled.LastTypeId-compiled.FirstTypeId))
	return compiled, nil
}

// buildExports snapshots the module-global environment. Below full
// debug, declaration pointers are dropped and function exports carry
// only their compact ABI summary.
func (rt *Runtime) buildExports(global *env.Env, debug DebugLevel) *env.Env {
	exports := env.New()
	for _, name := range global.LocalNames() {
		exp, _ := global.LookupLocal(name)
		if debug < DebugFull {
			if fd, ok := exp.Decl.(*ast.FuncDecl); ok {
				exp.FunctionABI = functionABI(fd)
			}
			exp.Decl = nil
		}
		exports.Define(name, exp)
	}
	return exports
}

func functionABI(fd *ast.FuncDecl) *env.FunctionABI {
	minArity := 0
	for _, p := range fd.Params {
		if p.Default == nil {
			minArity++
		}
	}
	return &env.FunctionABI{
		MinArity:     minArity,
		MaxArity:     len(fd.Params),
		ParamTypes:   append([]types.Id(nil), fd.ResolvedParams...),
		ReturnType:   fd.ResolvedReturn,
		GenericArity: len(fd.GenericParams),
	}
}

// Module retrieves an installed compiled module by name.
func (rt *Runtime) Module(name string) (*CompiledModule, bool) {
	m, ok := rt.modules[name]
	return m, ok
}
