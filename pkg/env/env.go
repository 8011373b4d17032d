// Package env implements the environment table: a persistent,
// insertion-order-irrelevant name-to-Export mapping shared structurally
// between scope layers. Both the name resolver and the type
// resolver's scope stack are built on it.
package env

import (
	"sort"
	"strings"

	"smalls/pkg/ast"
	"smalls/pkg/types"
)

// ExportKind classifies what an Export names.
type ExportKind int

const (
	ExportVar ExportKind = iota
	ExportFunc
	ExportType
	ExportModuleAlias
)

func (k ExportKind) String() string {
	switch k {
	case ExportVar:
		return "var"
	case ExportFunc:
		return "func"
	case ExportType:
		return "type"
	case ExportModuleAlias:
		return "module_alias"
	default:
		return "unknown"
	}
}

// FunctionABI is the compact summary a call is resolved against when
// the providing module was compiled at the "source_map" debug level
// and its declaration details were dropped.
type FunctionABI struct {
	MinArity     int
	MaxArity     int
	ParamTypes   []types.Id
	ReturnType   types.Id
	GenericArity int
}

// Export is one module's visible-from-outside binding.
type Export struct {
	Name           string
	Decl           ast.Decl // nil if this module was loaded at source_map/none debug level
	Kind           ExportKind
	Type           types.Id
	ProviderModule string
	FunctionABI    *FunctionABI
}

// Env is one scope layer. Scopes chain to a parent; lookups walk the
// chain outward. Layers are structurally shared: pushing a child
// scope never copies the parent's bindings.
type Env struct {
	parent  *Env
	entries map[string]Export
}

// New creates the root (module-global) environment.
func New() *Env {
	return &Env{entries: make(map[string]Export)}
}

// Push creates a child scope layer sharing this environment as its
// parent.
func (e *Env) Push() *Env {
	return &Env{parent: e, entries: make(map[string]Export)}
}

// Parent returns the enclosing scope, or nil at the root.
func (e *Env) Parent() *Env { return e.parent }

// Define inserts name into this scope layer only, returning false if
// name already exists at this exact layer (the name-resolver's
// duplicate-declaration check).
func (e *Env) Define(name string, exp Export) bool {
	if _, exists := e.entries[name]; exists {
		return false
	}
	exp.Name = name
	e.entries[name] = exp
	return true
}

// Lookup searches this scope and every enclosing scope, innermost
// first.
func (e *Env) Lookup(name string) (Export, bool) {
	for s := e; s != nil; s = s.parent {
		if exp, ok := s.entries[name]; ok {
			return exp, true
		}
	}
	return Export{}, false
}

// LookupLocal searches only this scope layer, not its ancestors.
func (e *Env) LookupLocal(name string) (Export, bool) {
	exp, ok := e.entries[name]
	return exp, ok
}

// Names returns every name visible from this scope (including
// ancestors), used to build "did you mean" suggestion candidates.
func (e *Env) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for s := e; s != nil; s = s.parent {
		for name := range s.entries {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// LocalNames returns only this layer's own names, sorted, used to
// enumerate a module's exports.
func (e *Env) LocalNames() []string {
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// suggestMaxDistance and suggestMaxCandidates bound "did you mean"
// suggestions.
const (
	suggestMaxDistance  = 2
	suggestMaxCandidates = 3
)

// Suggest returns up to suggestMaxCandidates names from candidates
// within edit distance suggestMaxDistance of target, nearest first
//.
func Suggest(candidates []string, target string) []string {
	type scored struct {
		name string
		dist int
	}
	var hits []scored
	for _, c := range candidates {
		d := levenshtein(target, c)
		if d <= suggestMaxDistance && d > 0 {
			hits = append(hits, scored{c, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > suggestMaxCandidates {
		hits = hits[:suggestMaxCandidates]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// SuggestIn is a convenience wrapper suggesting against every name
// visible from e.
func SuggestIn(e *Env, target string) []string {
	return Suggest(e.Names(), target)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// QualifiedName builds the "module.identifier" key used to reserve
// type ids and environment entries for module-level declarations
//.
func QualifiedName(module, identifier string) string {
	return module + "." + identifier
}

// SplitQualified reverses QualifiedName for diagnostics.
func SplitQualified(name string) (module, identifier string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name, false
	}
	return name[:i], name[i+1:], true
}
