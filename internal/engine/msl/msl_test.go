package msl

import (
	"context"
	"strings"
	"testing"

	"msls/internal/engine"
)

func runCheck(t *testing.T, text string, imports ...engine.ImportInput) engine.CheckOutput {
	t.Helper()
	out, err := New().ParseAndCheck(context.Background(), engine.CheckInput{
		Module:  "main",
		Text:    []byte(text),
		Imports: imports,
	})
	if err != nil {
		t.Fatalf("ParseAndCheck failed: %v", err)
	}
	return out
}

func diagsOfKind(out engine.CheckOutput, kind engine.DiagnosticKind) []engine.Diagnostic {
	var got []engine.Diagnostic
	for _, d := range out.Diagnostics {
		if d.Kind == kind {
			got = append(got, d)
		}
	}
	return got
}

func symbolsOf(decls ...engine.Declaration) *engine.SymbolTable {
	t := engine.NewSymbolTable()
	for _, d := range decls {
		t.Add(d)
	}
	return t
}

func TestParseAndCheck_WellFormedModule(t *testing.T) {
	text := strings.Join([]string{
		"module main",
		"-- sensor sampling configuration",
		"import sensor.util as util",
		"type Reading = Real",
		"const interval: Int = 250",
		"var lastSample: Reading",
		"op Sample(count: Int): Reading effects [lastSample] mode sync",
	}, "\n")

	out := runCheck(t, text, engine.ImportInput{
		Spec:   "sensor.util",
		Alias:  "util",
		Module: "sensor.util",
		Symbols: symbolsOf(
			engine.Declaration{Name: "Celsius", Kind: engine.DeclType, Type: "Real"},
		),
	})

	if len(out.Diagnostics) != 0 {
		t.Fatalf("expected a clean module, got %+v", out.Diagnostics)
	}
	if out.AST.Name != "main" {
		t.Errorf("module name = %q", out.AST.Name)
	}
	if len(out.AST.Imports) != 1 || out.AST.Imports[0].Alias != "util" {
		t.Errorf("unexpected imports: %+v", out.AST.Imports)
	}
	for _, name := range []string{"Reading", "interval", "lastSample", "Sample"} {
		if _, ok := out.Symbols.Lookup(name); !ok {
			t.Errorf("missing symbol %s", name)
		}
	}
	op, _ := out.Symbols.Lookup("Sample")
	if op.Mode != engine.ModeSync || op.Type != "Reading" || len(op.Params) != 1 {
		t.Errorf("unexpected operator shape: %+v", op)
	}
	if got := out.Types["Sample"]; got != "(count: Int): Reading effects [lastSample] mode sync" {
		t.Errorf("unexpected signature: %q", got)
	}
}

func TestParseAndCheck_DuplicateDeclaration(t *testing.T) {
	out := runCheck(t, "module main\nconst x: Int = 1\nvar x: Bool")
	diags := diagsOfKind(out, engine.KindTypeError)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "redeclaration") {
		t.Fatalf("expected one redeclaration diagnostic, got %+v", out.Diagnostics)
	}
	// First declaration wins.
	d, _ := out.Symbols.Lookup("x")
	if d.Kind != engine.DeclConst {
		t.Errorf("expected the const to survive, got %s", d.Kind)
	}
}

func TestParseAndCheck_UnknownType(t *testing.T) {
	out := runCheck(t, "module main\nvar x: Widget")
	diags := diagsOfKind(out, engine.KindTypeError)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "unknown type Widget") {
		t.Fatalf("got %+v", out.Diagnostics)
	}
}

func TestParseAndCheck_QualifiedReference(t *testing.T) {
	out := runCheck(t, "module main\nimport util\nvar x: util.Celsius",
		engine.ImportInput{
			Spec:   "util",
			Alias:  "util",
			Module: "util",
			Symbols: symbolsOf(
				engine.Declaration{Name: "Celsius", Kind: engine.DeclType, Type: "Real"},
			),
		})
	if len(out.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", out.Diagnostics)
	}
	if len(out.References) != 1 {
		t.Fatalf("expected one reference, got %+v", out.References)
	}
	ref := out.References[0]
	if ref.Qualifier != "util" || ref.Name != "Celsius" {
		t.Errorf("unexpected reference: %+v", ref)
	}
	text := "module main\nimport util\nvar x: util.Celsius"
	if got := text[ref.NameSpan.Start:ref.NameSpan.End]; got != "Celsius" {
		t.Errorf("NameSpan covers %q, want the bare name", got)
	}
}

func TestParseAndCheck_MissingImportStaysSilent(t *testing.T) {
	// The import itself carries the resolution diagnostic; uses through it
	// must not pile on TypeErrors.
	out := runCheck(t, "module main\nimport util\nvar x: util.Celsius",
		engine.ImportInput{Spec: "util", Alias: "util", Missing: true})
	if len(out.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics through a missing import, got %+v", out.Diagnostics)
	}
	if len(out.References) != 1 {
		t.Errorf("unresolved references must still be recorded for navigation")
	}
}

func TestParseAndCheck_UndefinedInImportedModule(t *testing.T) {
	out := runCheck(t, "module main\nimport util\nvar x: util.Nope",
		engine.ImportInput{
			Spec: "util", Alias: "util", Module: "util",
			Symbols: engine.NewSymbolTable(),
		})
	diags := diagsOfKind(out, engine.KindTypeError)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "not defined in module util") {
		t.Fatalf("got %+v", out.Diagnostics)
	}
}

func TestParseAndCheck_EffectTargetMustBeVar(t *testing.T) {
	out := runCheck(t, "module main\nconst limit: Int = 5\nop Run() effects [limit]")
	diags := diagsOfKind(out, engine.KindEffectError)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "not a var") {
		t.Fatalf("got %+v", out.Diagnostics)
	}
}

func TestParseAndCheck_AsyncImportedEffect(t *testing.T) {
	out := runCheck(t, "module main\nimport store\nop Flush() effects [store.buffer] mode async",
		engine.ImportInput{
			Spec: "store", Alias: "store", Module: "store",
			Symbols: symbolsOf(
				engine.Declaration{Name: "buffer", Kind: engine.DeclVar, Type: "String"},
			),
		})
	diags := diagsOfKind(out, engine.KindEffectError)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "async operator") {
		t.Fatalf("got %+v", out.Diagnostics)
	}

	// The same effect is fine on a sync operator.
	out = runCheck(t, "module main\nimport store\nop Flush() effects [store.buffer] mode sync",
		engine.ImportInput{
			Spec: "store", Alias: "store", Module: "store",
			Symbols: symbolsOf(
				engine.Declaration{Name: "buffer", Kind: engine.DeclVar, Type: "String"},
			),
		})
	if len(out.Diagnostics) != 0 {
		t.Fatalf("sync operator should accept imported effects, got %+v", out.Diagnostics)
	}
}

func TestParseAndCheck_ConstLiteralTypes(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
	}{
		{`const a: Int = 42`, true},
		{`const b: Int = 4.2`, false},
		{`const c: Real = 4.2`, true},
		{`const d: Bool = true`, true},
		{`const e: Bool = 1`, false},
		{`const f: String = "hi"`, true},
		{`const g: String = 3`, false},
	}
	for _, tc := range cases {
		out := runCheck(t, "module main\n"+tc.line)
		diags := diagsOfKind(out, engine.KindTypeError)
		if tc.ok && len(diags) != 0 {
			t.Errorf("%s: unexpected diagnostics %+v", tc.line, diags)
		}
		if !tc.ok && len(diags) != 1 {
			t.Errorf("%s: expected a literal mismatch, got %+v", tc.line, diags)
		}
	}
}

func TestParseAndCheck_ErrorTolerance(t *testing.T) {
	out := runCheck(t, "module main\nthis is not a declaration\nvar x: Int")
	if len(diagsOfKind(out, engine.KindParseError)) != 1 {
		t.Fatalf("expected one parse error, got %+v", out.Diagnostics)
	}
	if _, ok := out.Symbols.Lookup("x"); !ok {
		t.Error("declarations after a malformed line must still be parsed")
	}
}

func TestParseAndCheck_MissingModuleHeader(t *testing.T) {
	out := runCheck(t, "var x: Int")
	found := false
	for _, d := range diagsOfKind(out, engine.KindParseError) {
		if strings.Contains(d.Message, "module header") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a module-header diagnostic, got %+v", out.Diagnostics)
	}
	if _, ok := out.Symbols.Lookup("x"); !ok {
		t.Error("the declaration on the offending line is still usable")
	}
}

func TestParseAndCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().ParseAndCheck(ctx, engine.CheckInput{Module: "main", Text: []byte("module main")})
	if err == nil {
		t.Fatal("expected a context error")
	}
}

func TestScanHeader(t *testing.T) {
	h := ScanHeader([]byte("module main v2\nimport a.b as ab\nimport c\nvar x: Int"))
	if h.Module != "main" {
		t.Errorf("module = %q", h.Module)
	}
	if h.LanguageVersion != "2" {
		t.Errorf("language version = %q", h.LanguageVersion)
	}
	if len(h.Imports) != 2 || h.Imports[0].Spec != "a.b" || h.Imports[0].Alias != "ab" || h.Imports[1].Alias != "c" {
		t.Errorf("imports = %+v", h.Imports)
	}
}

func TestParseAndCheck_CRLFOffsets(t *testing.T) {
	text := "module main\r\nvar x: Widget\r\n"
	out := runCheck(t, text)
	diags := diagsOfKind(out, engine.KindTypeError)
	if len(diags) != 1 {
		t.Fatalf("got %+v", out.Diagnostics)
	}
	if got := text[diags[0].Span.Start:diags[0].Span.End]; got != "Widget" {
		t.Errorf("diagnostic span covers %q", got)
	}
}
