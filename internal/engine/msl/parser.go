package msl

import (
	"fmt"

	"msls/internal/engine"
)

// nameUse is any occurrence of a possibly-qualified name outside its own
// declaration: type positions, const initializers, effect targets.
type nameUse struct {
	name string
	span engine.Span
	kind useKind
	// owner is the declaration the use occurs in; effect checks need the
	// operator's mode.
	owner string
}

type useKind int

const (
	useType useKind = iota
	useValue
	useEffect
)

type constInit struct {
	decl    string
	typeTok string
	lit     token
}

// parsedModule is the parser's output before checking: the lowered syntax
// plus everything the checker still has to resolve.
type parsedModule struct {
	syntax *engine.ModuleSyntax
	uses   []nameUse
	lits   []constInit
}

func spanOf(toks []token) engine.Span {
	return engine.Span{Start: toks[0].start, End: toks[len(toks)-1].end}
}

// parse turns module text into syntax plus parse diagnostics. It never stops
// at the first error: each malformed line yields one ParseError and parsing
// continues, so a half-edited buffer still produces symbols for navigation.
func parse(text []byte) (*parsedModule, []engine.Diagnostic) {
	src := string(text)
	mod := &parsedModule{syntax: &engine.ModuleSyntax{}}
	var diags []engine.Diagnostic

	sawHeader := false
	lineStart := 0
	for lineStart <= len(src) {
		lineEnd := lineStart
		for lineEnd < len(src) && src[lineEnd] != '\n' {
			lineEnd++
		}
		line := src[lineStart:lineEnd]
		toks := tokenizeLine(line, lineStart)
		if len(toks) > 0 {
			if !sawHeader {
				if toks[0].kind == tokIdent && toks[0].text == "module" {
					parseModuleHeader(mod, toks, &diags)
				} else {
					diags = append(diags, parseError(spanOf(toks),
						"expected module header before declarations"))
					parseDecl(mod, toks, &diags)
				}
				sawHeader = true
			} else {
				parseDecl(mod, toks, &diags)
			}
		}
		lineStart = lineEnd + 1
	}

	if !sawHeader {
		diags = append(diags, parseError(engine.Span{}, "missing module header"))
	}
	return mod, diags
}

func parseError(span engine.Span, format string, args ...interface{}) engine.Diagnostic {
	return engine.Diagnostic{
		Kind:     engine.KindParseError,
		Severity: engine.SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Span:     span,
	}
}

func parseModuleHeader(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) < 2 || toks[1].kind != tokIdent {
		*diags = append(*diags, parseError(spanOf(toks), "malformed module header"))
		return
	}
	mod.syntax.Name = toks[1].text
	mod.syntax.NameSpan = engine.Span{Start: toks[1].start, End: toks[1].end}

	// Optional language version tag: module a v2 / module a v2.1
	if len(toks) >= 3 {
		if toks[2].kind == tokIdent && len(toks[2].text) > 1 && toks[2].text[0] == 'v' {
			mod.syntax.LanguageVersion = toks[2].text[1:]
		} else if toks[2].kind == tokIdent && toks[2].text == "v" && len(toks) >= 4 && toks[3].kind == tokNumber {
			mod.syntax.LanguageVersion = toks[3].text
		} else {
			*diags = append(*diags, parseError(engine.Span{Start: toks[2].start, End: toks[len(toks)-1].end},
				"unexpected tokens after module name"))
		}
	}
}

func parseDecl(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if toks[0].kind != tokIdent {
		*diags = append(*diags, parseError(spanOf(toks), "expected declaration"))
		return
	}
	switch toks[0].text {
	case "module":
		*diags = append(*diags, parseError(spanOf(toks), "duplicate module header"))
	case "import":
		parseImport(mod, toks, diags)
	case "type":
		parseType(mod, toks, diags)
	case "const":
		parseConst(mod, toks, diags)
	case "var":
		parseVar(mod, toks, diags)
	case "op":
		parseOp(mod, toks, diags)
	default:
		*diags = append(*diags, parseError(spanOf(toks),
			"unknown declaration %q", toks[0].text))
	}
}

// import a.b [as alias]
func parseImport(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) < 2 || toks[1].kind != tokIdent {
		*diags = append(*diags, parseError(spanOf(toks), "malformed import"))
		return
	}
	imp := engine.ImportDecl{
		Spec:     toks[1].text,
		Alias:    toks[1].text,
		Span:     spanOf(toks),
		SpecSpan: engine.Span{Start: toks[1].start, End: toks[1].end},
	}
	if len(toks) == 4 && toks[2].kind == tokIdent && toks[2].text == "as" && toks[3].kind == tokIdent {
		imp.Alias = toks[3].text
	} else if len(toks) != 2 {
		*diags = append(*diags, parseError(spanOf(toks), "malformed import clause"))
		return
	}
	mod.syntax.Imports = append(mod.syntax.Imports, imp)
}

// type Name = TypeExpr
func parseType(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) != 4 || toks[1].kind != tokIdent || toks[2].text != "=" || toks[3].kind != tokIdent {
		*diags = append(*diags, parseError(spanOf(toks), "malformed type declaration"))
		return
	}
	decl := engine.Declaration{
		Name:     toks[1].text,
		Kind:     engine.DeclType,
		Span:     spanOf(toks),
		NameSpan: engine.Span{Start: toks[1].start, End: toks[1].end},
		Type:     toks[3].text,
	}
	mod.syntax.Decls = append(mod.syntax.Decls, decl)
	mod.addTypeUse(toks[3], decl.Name)
}

// const name: Type = literal
func parseConst(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) != 6 || toks[1].kind != tokIdent || toks[2].text != ":" ||
		toks[3].kind != tokIdent || toks[4].text != "=" {
		*diags = append(*diags, parseError(spanOf(toks), "malformed const declaration"))
		return
	}
	decl := engine.Declaration{
		Name:     toks[1].text,
		Kind:     engine.DeclConst,
		Span:     spanOf(toks),
		NameSpan: engine.Span{Start: toks[1].start, End: toks[1].end},
		Type:     toks[3].text,
	}
	mod.syntax.Decls = append(mod.syntax.Decls, decl)
	mod.addTypeUse(toks[3], decl.Name)

	switch toks[5].kind {
	case tokNumber, tokString:
		mod.lits = append(mod.lits, constInit{decl: decl.Name, typeTok: toks[3].text, lit: toks[5]})
	case tokIdent:
		if toks[5].text == "true" || toks[5].text == "false" {
			mod.lits = append(mod.lits, constInit{decl: decl.Name, typeTok: toks[3].text, lit: toks[5]})
		} else {
			mod.uses = append(mod.uses, nameUse{
				name:  toks[5].text,
				span:  engine.Span{Start: toks[5].start, End: toks[5].end},
				kind:  useValue,
				owner: decl.Name,
			})
		}
	default:
		*diags = append(*diags, parseError(engine.Span{Start: toks[5].start, End: toks[5].end},
			"malformed const initializer"))
	}
}

// var name: Type
func parseVar(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) != 4 || toks[1].kind != tokIdent || toks[2].text != ":" || toks[3].kind != tokIdent {
		*diags = append(*diags, parseError(spanOf(toks), "malformed var declaration"))
		return
	}
	decl := engine.Declaration{
		Name:     toks[1].text,
		Kind:     engine.DeclVar,
		Span:     spanOf(toks),
		NameSpan: engine.Span{Start: toks[1].start, End: toks[1].end},
		Type:     toks[3].text,
	}
	mod.syntax.Decls = append(mod.syntax.Decls, decl)
	mod.addTypeUse(toks[3], decl.Name)
}

// op Name(param: Type, ...) [: Type] [effects [target, ...]] [mode sync|async]
func parseOp(mod *parsedModule, toks []token, diags *[]engine.Diagnostic) {
	if len(toks) < 4 || toks[1].kind != tokIdent || toks[2].text != "(" {
		*diags = append(*diags, parseError(spanOf(toks), "malformed operator declaration"))
		return
	}
	decl := engine.Declaration{
		Name:     toks[1].text,
		Kind:     engine.DeclOp,
		Span:     spanOf(toks),
		NameSpan: engine.Span{Start: toks[1].start, End: toks[1].end},
		Type:     "Unit",
		Mode:     engine.ModeSync,
	}

	i := 3
	// parameter list
	for i < len(toks) && toks[i].text != ")" {
		if toks[i].kind != tokIdent || i+2 >= len(toks) || toks[i+1].text != ":" || toks[i+2].kind != tokIdent {
			*diags = append(*diags, parseError(spanOf(toks), "malformed parameter list"))
			return
		}
		decl.Params = append(decl.Params, engine.Param{Name: toks[i].text, Type: toks[i+2].text})
		mod.addTypeUse(toks[i+2], decl.Name)
		i += 3
		if i < len(toks) && toks[i].text == "," {
			i++
		}
	}
	if i >= len(toks) {
		*diags = append(*diags, parseError(spanOf(toks), "unterminated parameter list"))
		return
	}
	i++ // consume ')'

	// optional result type
	if i+1 < len(toks) && toks[i].text == ":" && toks[i+1].kind == tokIdent {
		decl.Type = toks[i+1].text
		mod.addTypeUse(toks[i+1], decl.Name)
		i += 2
	}

	// optional effects clause
	if i < len(toks) && toks[i].kind == tokIdent && toks[i].text == "effects" {
		i++
		if i >= len(toks) || toks[i].text != "[" {
			*diags = append(*diags, parseError(spanOf(toks), "malformed effects clause"))
			return
		}
		i++
		for i < len(toks) && toks[i].text != "]" {
			if toks[i].kind != tokIdent {
				*diags = append(*diags, parseError(spanOf(toks), "malformed effects clause"))
				return
			}
			decl.Effects = append(decl.Effects, toks[i].text)
			mod.uses = append(mod.uses, nameUse{
				name:  toks[i].text,
				span:  engine.Span{Start: toks[i].start, End: toks[i].end},
				kind:  useEffect,
				owner: decl.Name,
			})
			i++
			if i < len(toks) && toks[i].text == "," {
				i++
			}
		}
		if i >= len(toks) {
			*diags = append(*diags, parseError(spanOf(toks), "unterminated effects clause"))
			return
		}
		i++ // consume ']'
	}

	// optional mode clause
	if i < len(toks) && toks[i].kind == tokIdent && toks[i].text == "mode" {
		if i+1 < len(toks) && (toks[i+1].text == "sync" || toks[i+1].text == "async") {
			decl.Mode = engine.OpMode(toks[i+1].text)
			i += 2
		} else {
			*diags = append(*diags, parseError(spanOf(toks), "mode must be sync or async"))
			return
		}
	}

	if i != len(toks) {
		*diags = append(*diags, parseError(engine.Span{Start: toks[i].start, End: toks[len(toks)-1].end},
			"unexpected tokens after operator declaration"))
		return
	}
	mod.syntax.Decls = append(mod.syntax.Decls, decl)
}

func (m *parsedModule) addTypeUse(tok token, owner string) {
	m.uses = append(m.uses, nameUse{
		name:  tok.text,
		span:  engine.Span{Start: tok.start, End: tok.end},
		kind:  useType,
		owner: owner,
	})
}
