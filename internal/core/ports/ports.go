package ports

import (
	"context"

	"msls/internal/engine"
)

// SourceEngine abstracts the external parse/typecheck engine. One call is a
// pure function of its input; the engine keeps no state between calls, so all
// memoization happens on the caller's side.
type SourceEngine interface {
	ParseAndCheck(ctx context.Context, in engine.CheckInput) (engine.CheckOutput, error)
}

// ResolvedModule is the outcome of resolving one import spec.
type ResolvedModule struct {
	Module string
	Path   string
	OnDisk bool
}

// ModuleResolver maps an import spec to a module identity and, when the
// module is not open in the editor, a readable path on disk.
type ModuleResolver interface {
	Resolve(spec string, fromModule string) (ResolvedModule, error)
}

// TextSource hands the scheduler the current text of a module, preferring
// open-editor overlays over disk content.
type TextSource interface {
	ModuleText(module string) ([]byte, int32, error)
}
