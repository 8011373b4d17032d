// Package validate implements the third analysis pass: control-flow
// checks over every resolved function body, switch case validation,
// operator-alias consistency, and map-key admissibility.
package validate

import (
	"fmt"
	"sort"

	"smalls/pkg/ast"
	"smalls/pkg/consteval"
	"smalls/pkg/diag"
	"smalls/pkg/intern"
	"smalls/pkg/types"
)

// Validator walks every function body of a resolved module. It runs
// after the type resolver; nodes left at types.Invalid by earlier
// errors are skipped rather than re-reported.
type Validator struct {
	Module   string
	Registry *types.Registry
	Interner *intern.Table
	Sink     *diag.Sink

	loopDepth   int
	switchDepth int
}

// New constructs a Validator for one compilation unit.
func New(module string, registry *types.Registry, interner *intern.Table, sink *diag.Sink) *Validator {
	return &Validator{
		Module:   module,
		Registry: registry,
		Interner: interner,
		Sink:     sink,
	}
}

// Validate checks every function body of mod, then runs the
// whole-registry checks (operator consistency, map-key admissibility)
// that are per-type rather than per-function.
func (v *Validator) Validate(mod *ast.Module) {
	for _, decl := range mod.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Body != nil {
			v.validateFunc(fd)
		}
	}
	v.checkOperatorConsistency()
	v.checkMapKeyTypes()
}

func (v *Validator) validateFunc(fd *ast.FuncDecl) {
	v.loopDepth = 0
	v.switchDepth = 0
	v.validateBlock(fd.Body)

	if fd.ResolvedReturn != types.Void && fd.ResolvedReturn != types.Invalid {
		if !v.stmtsTerminate(fd.Body.Stmts) {
			v.Sink.ControlFlow(v.Module,
				fmt.Sprintf("function %q: missing return on a non-void path", fd.Name),
				false, fd.Range())
		}
	}
}

// ---- return coverage ----

// stmtsTerminate reports whether a statement list terminates in
// `return` on every control-flow path.
func (v *Validator) stmtsTerminate(stmts []ast.Stmt) bool {
	for _, s := range stmts {
		if v.stmtTerminates(s) {
			return true
		}
	}
	return false
}

func (v *Validator) stmtTerminates(s ast.Stmt) bool {
	switch st := s.(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.Block:
		return v.stmtsTerminate(st.Stmts)
	case *ast.IfStmt:
		if st.Else == nil {
			return false
		}
		return v.stmtsTerminate(st.Then.Stmts) && v.stmtTerminates(st.Else)
	case *ast.SwitchStmt:
		return v.switchTerminates(st)
	default:
		return false
	}
}

// switchTerminates reports whether a switch closes its path: every
// segment either returns or falls through to a returning segment,
// and either a default label exists or every variant of the
// scrutinee sum type is matched.
func (v *Validator) switchTerminates(s *ast.SwitchStmt) bool {
	if len(s.Cases) == 0 {
		return false
	}
	hasDefault := false
	for _, c := range s.Cases {
		for _, l := range c.Labels {
			if l.IsDefault {
				hasDefault = true
			}
		}
	}
	if !hasDefault && !v.switchCoversAllVariants(s) {
		return false
	}

	// Walk segments back to front: a segment closes the path if its own
	// body terminates or it falls through to a closing segment.
	terminates := false
	for i := len(s.Cases) - 1; i >= 0; i-- {
		if v.stmtsTerminate(s.Cases[i].Body) {
			terminates = true
		} else if len(s.Cases[i].Body) != 0 || !terminates {
			return false
		}
	}
	return terminates
}

func (v *Validator) switchCoversAllVariants(s *ast.SwitchStmt) bool {
	if s.Kind != ast.SwitchPattern {
		return false
	}
	sum := v.scrutineeSum(s)
	if sum == nil {
		return false
	}
	matched := make(map[string]bool)
	for _, c := range s.Cases {
		for _, l := range c.Labels {
			if l.VariantName != "" {
				matched[l.VariantName] = true
			}
		}
	}
	for _, variant := range sum.Variants {
		if !matched[v.Interner.Text(variant.Name)] {
			return false
		}
	}
	return true
}

func (v *Validator) scrutineeSum(s *ast.SwitchStmt) *types.SumDef {
	if s.Scrutinee == nil {
		return nil
	}
	t := s.Scrutinee.Type()
	if t == types.Invalid {
		return nil
	}
	return v.Registry.Descriptor(t).Sum
}

// ---- statement walk: break/continue placement, switch labels ----

func (v *Validator) validateBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		v.validateStmt(s)
	}
}

func (v *Validator) validateStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.Block:
		v.validateBlock(st)
	case *ast.ExprStmt:
		v.validateExpr(st.Expr)
	case *ast.VarStmt:
		if st.Decl.Init != nil {
			v.validateExpr(st.Decl.Init)
		}
	case *ast.AssignStmt:
		v.validateExpr(st.Target)
		v.validateExpr(st.Value)
	case *ast.ReturnStmt:
		if st.Value != nil {
			v.validateExpr(st.Value)
		}
	case *ast.BreakStmt:
		if v.loopDepth == 0 && v.switchDepth == 0 {
			v.Sink.ControlFlow(v.Module, "break outside a loop or switch", false, st.Range())
		}
	case *ast.ContinueStmt:
		if v.loopDepth == 0 {
			v.Sink.ControlFlow(v.Module, "continue outside a loop", false, st.Range())
		}
	case *ast.IfStmt:
		v.validateExpr(st.Cond)
		v.validateBlock(st.Then)
		if st.Else != nil {
			v.validateStmt(st.Else)
		}
	case *ast.ForStmt:
		v.validateExpr(st.Iter)
		v.loopDepth++
		v.validateBlock(st.Body)
		v.loopDepth--
	case *ast.WhileStmt:
		v.validateExpr(st.Cond)
		v.loopDepth++
		v.validateBlock(st.Body)
		v.loopDepth--
	case *ast.SwitchStmt:
		v.validateSwitch(st)
	}
}

// validateExpr descends into lambda bodies so their control flow is
// checked with the same rules as top-level functions.
func (v *Validator) validateExpr(e ast.Expr) {
	switch ex := e.(type) {
	case *ast.LambdaExpr:
		if ex.Decl.Body != nil {
			savedLoop, savedSwitch := v.loopDepth, v.switchDepth
			v.loopDepth, v.switchDepth = 0, 0
			v.validateFunc(ex.Decl)
			v.loopDepth, v.switchDepth = savedLoop, savedSwitch
		}
	case *ast.CallExpr:
		v.validateExpr(ex.Callee)
		for _, a := range ex.Args {
			v.validateExpr(a)
		}
	case *ast.BinaryExpr:
		v.validateExpr(ex.Left)
		v.validateExpr(ex.Right)
	case *ast.UnaryExpr:
		v.validateExpr(ex.Operand)
	case *ast.IndexExpr:
		v.validateExpr(ex.Recv)
		v.validateExpr(ex.Index)
	case *ast.PathExpr:
		v.validateExpr(ex.Base)
	case *ast.TupleExpr:
		for _, el := range ex.Elems {
			v.validateExpr(el)
		}
	case *ast.BraceInit:
		for _, ent := range ex.Entries {
			if ent.Key != nil {
				v.validateExpr(ent.Key)
			}
			v.validateExpr(ent.Value)
		}
	}
}

// ---- switch case validation ----

func (v *Validator) validateSwitch(s *ast.SwitchStmt) {
	v.validateExpr(s.Scrutinee)

	v.switchDepth++
	for i := range s.Cases {
		for _, st := range s.Cases[i].Body {
			v.validateStmt(st)
		}
	}
	v.switchDepth--

	switch s.Kind {
	case ast.SwitchBasic:
		v.validateBasicSwitch(s)
	case ast.SwitchPattern:
		v.validatePatternSwitch(s)
	}
}

func (v *Validator) validateBasicSwitch(s *ast.SwitchStmt) {
	scrutType := types.Invalid
	if s.Scrutinee != nil {
		scrutType = s.Scrutinee.Type()
	}

	labelCount := 0
	seenInts := make(map[int64]bool)
	seenStrs := make(map[string]bool)
	for _, c := range s.Cases {
		for _, l := range c.Labels {
			if l.IsDefault {
				continue
			}
			labelCount++
			if l.Value == nil {
				v.Sink.ControlFlow(v.Module, "switch case label must be a constant expression", false, s.Range())
				continue
			}
			switch scrutType {
			case types.Int:
				n, ok := consteval.EvalInt(l.Value, nil)
				if !ok {
					v.Sink.ControlFlow(v.Module, "switch case label must be a constant int expression", false, l.Value.Range())
					continue
				}
				if seenInts[n] {
					v.Sink.ControlFlow(v.Module, fmt.Sprintf("duplicate switch case value %d", n), false, l.Value.Range())
				}
				seenInts[n] = true
			case types.String:
				str, ok := consteval.EvalString(l.Value)
				if !ok {
					v.Sink.ControlFlow(v.Module, "switch case label must be a constant string expression", false, l.Value.Range())
					continue
				}
				if seenStrs[str] {
					v.Sink.ControlFlow(v.Module, fmt.Sprintf("duplicate switch case value %q", str), false, l.Value.Range())
				}
				seenStrs[str] = true
			case types.Invalid:
				// Scrutinee failed to resolve; earlier passes reported it.
			default:
				v.Sink.ControlFlow(v.Module, "switch scrutinee must be int or string", false, s.Range())
				return
			}
		}
	}
	if labelCount == 0 {
		v.Sink.ControlFlow(v.Module, "switch requires at least one case label", false, s.Range())
	}
}

func (v *Validator) validatePatternSwitch(s *ast.SwitchStmt) {
	sum := v.scrutineeSum(s)
	if sum == nil {
		return
	}

	hasDefault := false
	matched := make(map[string]bool)
	seen := make(map[string]bool)
	for _, c := range s.Cases {
		for li := range c.Labels {
			l := &c.Labels[li]
			if l.IsDefault {
				hasDefault = true
				continue
			}
			if l.VariantName == "" {
				v.Sink.ControlFlow(v.Module, "switch on a sum type requires pattern labels", false, s.Range())
				continue
			}
			if seen[l.VariantName] && l.Guard == nil {
				v.Sink.ControlFlow(v.Module, fmt.Sprintf("duplicate case for variant %q", l.VariantName), false, s.Range())
			}
			seen[l.VariantName] = true
			if l.Guard == nil {
				matched[l.VariantName] = true
			}
			if l.Guard != nil && l.Guard.Type() != types.Bool && l.Guard.Type() != types.Invalid {
				v.Sink.ControlFlow(v.Module, "pattern guard must be boolean", false, l.Guard.Range())
			}
			v.checkVariantExists(sum, l.VariantName, s)
		}
	}

	if !hasDefault {
		var missing []string
		for _, variant := range sum.Variants {
			name := v.Interner.Text(variant.Name)
			if !matched[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			v.Sink.ControlFlow(v.Module,
				fmt.Sprintf("switch does not cover variants: %v", missing), false, s.Range())
		}
	}
}

func (v *Validator) checkVariantExists(sum *types.SumDef, name string, s *ast.SwitchStmt) {
	for _, variant := range sum.Variants {
		if v.Interner.Text(variant.Name) == name {
			return
		}
	}
	v.Sink.ControlFlow(v.Module, fmt.Sprintf("no variant %q on the scrutinee's type", name), false, s.Range())
}

// ---- whole-registry checks ----

// checkOperatorConsistency reports any type that defines `hash` or
// `lt` without `eq`.
func (v *Validator) checkOperatorConsistency() {
	for id := types.Id(0); int(id) < v.Registry.Len(); id++ {
		d := v.Registry.Descriptor(id)
		if (d.HasHash || d.HasLt) && !d.HasExplicitEq {
			name := v.Interner.Text(d.Name)
			op := "lt"
			if d.HasHash {
				op = "hash"
			}
			v.Sink.ControlFlow(v.Module,
				fmt.Sprintf("type %q defines operator %q without eq", name, op), false, diag.Range{})
		}
	}
}

// checkMapKeyTypes admits int, string, and newtypes whose underlying
// base is int or string as map keys. Everything else (float, bool,
// handle types, compounds, value_type structs) is rejected.
func (v *Validator) checkMapKeyTypes() {
	for id := types.Id(0); int(id) < v.Registry.Len(); id++ {
		d := v.Registry.Descriptor(id)
		if d.Kind != types.KindMap || d.MapKey == types.Invalid {
			continue
		}
		if !v.mapKeyAdmissible(d.MapKey) {
			keyDesc := v.Registry.Descriptor(d.MapKey)
			v.Sink.ControlFlow(v.Module,
				fmt.Sprintf("map key type %q is not admissible (want int, string, or a newtype over them)",
					v.Interner.Text(keyDesc.Name)), false, diag.Range{})
		}
	}
}

func (v *Validator) mapKeyAdmissible(key types.Id) bool {
	if key == types.Int || key == types.String {
		return true
	}
	d := v.Registry.Descriptor(key)
	if d.Kind == types.KindNewtype {
		base := d.Array // the wrapped base type id
		return base == types.Int || base == types.String
	}
	return false
}
