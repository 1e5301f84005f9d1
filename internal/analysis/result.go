// Package analysis owns the per-module analysis artifacts and the
// fingerprint-keyed cache that decides when the engine actually runs.
package analysis

import "msls/internal/engine"

// ImportBinding records where one import clause of an analyzed module ended
// up pointing. Module is the target identity whether or not it resolved.
type ImportBinding struct {
	Spec     string
	Alias    string
	Module   string
	Missing  bool
	SpecSpan engine.Span
}

// Result is the immutable artifact of analyzing one module at one
// fingerprint. Superseded results are replaced by reference swap, never
// edited, so concurrent readers can hold one indefinitely.
type Result struct {
	Module      string
	Fingerprint Fingerprint
	Version     int32

	AST         *engine.ModuleSyntax
	Diagnostics []engine.Diagnostic
	Symbols     *engine.SymbolTable
	References  []engine.Reference
	Types       map[string]string

	Imports []ImportBinding
}
