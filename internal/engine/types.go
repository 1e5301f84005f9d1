package engine

// Span is a half-open byte range [Start, End) within a module's text.
type Span struct {
	Start int
	End   int
}

func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

type DiagnosticKind string

const (
	KindParseError      DiagnosticKind = "ParseError"
	KindTypeError       DiagnosticKind = "TypeError"
	KindEffectError     DiagnosticKind = "EffectError"
	KindResolutionError DiagnosticKind = "ResolutionError"
	KindCycleError      DiagnosticKind = "CycleError"
	KindAnalysisTimeout DiagnosticKind = "AnalysisTimeout"
	KindInternalError   DiagnosticKind = "InternalError"
)

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

type Diagnostic struct {
	Kind     DiagnosticKind
	Severity Severity
	Message  string
	Span     Span
}

type DeclKind string

const (
	DeclType  DeclKind = "type"
	DeclConst DeclKind = "const"
	DeclVar   DeclKind = "var"
	DeclOp    DeclKind = "op"
)

// OpMode is the execution mode of an operator declaration.
type OpMode string

const (
	ModeSync  OpMode = "sync"
	ModeAsync OpMode = "async"
)

type Param struct {
	Name string
	Type string
}

// Declaration is one named unit inside a module. Span covers the whole
// declaration, NameSpan only the declared identifier.
type Declaration struct {
	Name     string
	Kind     DeclKind
	Span     Span
	NameSpan Span
	Type     string
	Params   []Param
	Effects  []string
	Mode     OpMode
}

// Reference is a use of a possibly-qualified name. Qualifier is the import
// alias or module prefix, empty for a local reference. NameSpan covers only
// the final name segment, which is the part a rename edits.
type Reference struct {
	Qualifier string
	Name      string
	Span      Span
	NameSpan  Span
}

// ImportDecl records one import clause. Spec is the imported module name,
// Alias the local binding (defaults to Spec).
type ImportDecl struct {
	Spec     string
	Alias    string
	Span     Span
	SpecSpan Span
}

// ModuleSyntax is the abstract syntax of one parsed module.
type ModuleSyntax struct {
	Name            string
	NameSpan        Span
	LanguageVersion string
	Imports         []ImportDecl
	Decls           []Declaration
}

// SymbolTable holds a module's declarations in source order.
type SymbolTable struct {
	Decls map[string]Declaration
	Order []string
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{Decls: make(map[string]Declaration)}
}

func (t *SymbolTable) Add(d Declaration) {
	if _, ok := t.Decls[d.Name]; !ok {
		t.Order = append(t.Order, d.Name)
	}
	t.Decls[d.Name] = d
}

func (t *SymbolTable) Lookup(name string) (Declaration, bool) {
	if t == nil {
		return Declaration{}, false
	}
	d, ok := t.Decls[name]
	return d, ok
}

// ImportInput carries one resolved (or failed) import into a check run.
// Missing marks imports whose target could not be resolved; their Symbols
// are nil and references through them stay unresolved.
type ImportInput struct {
	Spec    string
	Alias   string
	Module  string
	Symbols *SymbolTable
	Missing bool
}

// CheckInput is everything a single engine invocation depends on. The engine
// is a pure function of this value.
type CheckInput struct {
	Module  string
	Text    []byte
	Imports []ImportInput
}

// CheckOutput is the complete artifact of one engine invocation.
type CheckOutput struct {
	AST         *ModuleSyntax
	Diagnostics []Diagnostic
	Symbols     *SymbolTable
	References  []Reference
	Types       map[string]string
}
