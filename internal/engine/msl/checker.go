package msl

import (
	"fmt"
	"sort"
	"strings"

	"msls/internal/engine"
)

var builtinTypes = map[string]bool{
	"Int":    true,
	"Bool":   true,
	"String": true,
	"Real":   true,
	"Unit":   true,
}

// check resolves every name use against the local symbol table and the
// import inputs, producing the final artifact. Failures through a missing
// import stay silent here: the import itself already carries a resolution
// diagnostic, and its references surface as unresolved, not as errors.
func check(mod *parsedModule, parseDiags []engine.Diagnostic, in engine.CheckInput) engine.CheckOutput {
	diags := parseDiags
	table := engine.NewSymbolTable()

	for _, d := range mod.syntax.Decls {
		if prev, ok := table.Lookup(d.Name); ok {
			diags = append(diags, engine.Diagnostic{
				Kind:     engine.KindTypeError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("redeclaration of %s (previously a %s)", d.Name, prev.Kind),
				Span:     d.NameSpan,
			})
			continue
		}
		table.Add(d)
	}

	if mod.syntax.Name != "" && in.Module != "" && mod.syntax.Name != in.Module {
		diags = append(diags, engine.Diagnostic{
			Kind:     engine.KindParseError,
			Severity: engine.SeverityWarning,
			Message:  fmt.Sprintf("module header %q does not match expected module %q", mod.syntax.Name, in.Module),
			Span:     mod.syntax.NameSpan,
		})
	}

	imports := make(map[string]engine.ImportInput, len(in.Imports))
	for _, imp := range in.Imports {
		imports[imp.Alias] = imp
	}

	var refs []engine.Reference
	ops := make(map[string]engine.Declaration)
	for _, d := range mod.syntax.Decls {
		if d.Kind == engine.DeclOp {
			ops[d.Name] = d
		}
	}

	for _, use := range mod.uses {
		qualifier, last := splitQualified(use.name)
		nameSpan := engine.Span{Start: use.span.End - len(last), End: use.span.End}

		if qualifier == "" {
			if use.kind == useType && builtinTypes[use.name] {
				continue
			}
			target, ok := table.Lookup(use.name)
			if !ok {
				diags = append(diags, unresolvedUseDiag(use))
				continue
			}
			if d := localUseKindDiag(use, target); d != nil {
				diags = append(diags, *d)
			}
			refs = append(refs, engine.Reference{
				Name:     use.name,
				Span:     use.span,
				NameSpan: nameSpan,
			})
			continue
		}

		imp, ok := imports[qualifier]
		if !ok {
			diags = append(diags, engine.Diagnostic{
				Kind:     diagKindFor(use.kind),
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("unknown module qualifier %q", qualifier),
				Span:     use.span,
			})
			continue
		}

		refs = append(refs, engine.Reference{
			Qualifier: qualifier,
			Name:      last,
			Span:      use.span,
			NameSpan:  nameSpan,
		})

		if imp.Missing || imp.Symbols == nil {
			continue // unresolved import: references stay Unresolved
		}

		target, ok := imp.Symbols.Lookup(last)
		if !ok {
			diags = append(diags, engine.Diagnostic{
				Kind:     diagKindFor(use.kind),
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("%s is not defined in module %s", last, imp.Module),
				Span:     use.span,
			})
			continue
		}
		diags = appendImportedUseDiags(diags, use, target, imp, ops)
	}

	for _, lit := range mod.lits {
		if d := checkLiteral(lit, table); d != nil {
			diags = append(diags, *d)
		}
	}

	types := make(map[string]string, len(table.Order))
	for _, name := range table.Order {
		types[name] = typeDisplay(table.Decls[name])
	}

	sort.SliceStable(diags, func(i, j int) bool {
		return diags[i].Span.Start < diags[j].Span.Start
	})

	return engine.CheckOutput{
		AST:         mod.syntax,
		Diagnostics: diags,
		Symbols:     table,
		References:  refs,
		Types:       types,
	}
}

func diagKindFor(kind useKind) engine.DiagnosticKind {
	if kind == useEffect {
		return engine.KindEffectError
	}
	return engine.KindTypeError
}

func unresolvedUseDiag(use nameUse) engine.Diagnostic {
	var msg string
	switch use.kind {
	case useType:
		msg = fmt.Sprintf("unknown type %s", use.name)
	case useEffect:
		msg = fmt.Sprintf("unknown effect target %s", use.name)
	default:
		msg = fmt.Sprintf("undefined name %s", use.name)
	}
	return engine.Diagnostic{
		Kind:     diagKindFor(use.kind),
		Severity: engine.SeverityError,
		Message:  msg,
		Span:     use.span,
	}
}

func localUseKindDiag(use nameUse, target engine.Declaration) *engine.Diagnostic {
	switch use.kind {
	case useType:
		if target.Kind != engine.DeclType {
			return &engine.Diagnostic{
				Kind:     engine.KindTypeError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("%s is a %s, not a type", use.name, target.Kind),
				Span:     use.span,
			}
		}
	case useEffect:
		if target.Kind != engine.DeclVar {
			return &engine.Diagnostic{
				Kind:     engine.KindEffectError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("effect target %s is a %s, not a var", use.name, target.Kind),
				Span:     use.span,
			}
		}
	case useValue:
		if target.Kind != engine.DeclConst && target.Kind != engine.DeclVar {
			return &engine.Diagnostic{
				Kind:     engine.KindTypeError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("%s is a %s and cannot initialize a const", use.name, target.Kind),
				Span:     use.span,
			}
		}
	}
	return nil
}

func appendImportedUseDiags(diags []engine.Diagnostic, use nameUse, target engine.Declaration, imp engine.ImportInput, ops map[string]engine.Declaration) []engine.Diagnostic {
	switch use.kind {
	case useType:
		if target.Kind != engine.DeclType {
			diags = append(diags, engine.Diagnostic{
				Kind:     engine.KindTypeError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("%s.%s is a %s, not a type", imp.Module, target.Name, target.Kind),
				Span:     use.span,
			})
		}
	case useEffect:
		if target.Kind != engine.DeclVar {
			diags = append(diags, engine.Diagnostic{
				Kind:     engine.KindEffectError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("effect target %s.%s is a %s, not a var", imp.Module, target.Name, target.Kind),
				Span:     use.span,
			})
			break
		}
		if op, ok := ops[use.owner]; ok && op.Mode == engine.ModeAsync {
			diags = append(diags, engine.Diagnostic{
				Kind:     engine.KindEffectError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("async operator %s cannot declare effects on imported state %s.%s", use.owner, imp.Module, target.Name),
				Span:     use.span,
			})
		}
	case useValue:
		if target.Kind != engine.DeclConst && target.Kind != engine.DeclVar {
			diags = append(diags, engine.Diagnostic{
				Kind:     engine.KindTypeError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("%s.%s is a %s and cannot initialize a const", imp.Module, target.Name, target.Kind),
				Span:     use.span,
			})
		}
	}
	return diags
}

func checkLiteral(lit constInit, table *engine.SymbolTable) *engine.Diagnostic {
	declared := lit.typeTok
	// Follow one level of local alias; deeper chains are left to the alias's
	// own declaration site.
	if !builtinTypes[declared] {
		if d, ok := table.Lookup(declared); ok && d.Kind == engine.DeclType {
			declared = d.Type
		}
	}
	if !builtinTypes[declared] {
		return nil
	}

	var ok bool
	switch declared {
	case "Int":
		ok = lit.lit.kind == tokNumber && !strings.Contains(lit.lit.text, ".")
	case "Real":
		ok = lit.lit.kind == tokNumber
	case "Bool":
		ok = lit.lit.kind == tokIdent && (lit.lit.text == "true" || lit.lit.text == "false")
	case "String":
		ok = lit.lit.kind == tokString
	case "Unit":
		ok = false
	}
	if ok {
		return nil
	}
	return &engine.Diagnostic{
		Kind:     engine.KindTypeError,
		Severity: engine.SeverityError,
		Message:  fmt.Sprintf("literal %s does not match type %s", lit.lit.text, lit.typeTok),
		Span:     engine.Span{Start: lit.lit.start, End: lit.lit.end},
	}
}

func typeDisplay(d engine.Declaration) string {
	switch d.Kind {
	case engine.DeclType:
		return d.Type
	case engine.DeclConst, engine.DeclVar:
		return d.Type
	case engine.DeclOp:
		var b strings.Builder
		b.WriteString("(")
		for i, p := range d.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Name)
			b.WriteString(": ")
			b.WriteString(p.Type)
		}
		b.WriteString("): ")
		b.WriteString(d.Type)
		if len(d.Effects) > 0 {
			b.WriteString(" effects [")
			b.WriteString(strings.Join(d.Effects, ", "))
			b.WriteString("]")
		}
		b.WriteString(" mode ")
		b.WriteString(string(d.Mode))
		return b.String()
	}
	return ""
}
