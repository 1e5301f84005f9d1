// Package symbols maintains the cross-module definition and reference index
// that backs go-to-definition, find-references, and rename. The index is
// updated incrementally: each analysis replaces exactly one module's
// contribution.
package symbols

import (
	"sort"
	"sync"

	"msls/internal/engine"
)

// DefKey identifies a declaration by the module that owns it.
type DefKey struct {
	Module string
	Name   string
}

// Definition is a declaration together with its owning module.
type Definition struct {
	Module string
	Decl   engine.Declaration
}

// Location is one occurrence of a symbol. NameSpan covers just the
// identifier, which is the range a rename edits.
type Location struct {
	Module   string
	Span     engine.Span
	NameSpan engine.Span
}

// site is an occurrence recorded for position lookup within one module.
type site struct {
	key      DefKey
	span     engine.Span
	nameSpan engine.Span
	isDef    bool
}

type moduleEntry struct {
	defKeys []DefKey
	refKeys []DefKey // keys this module contributed references to
	sites   []site
}

type Index struct {
	mu       sync.RWMutex
	defs     map[DefKey]Definition
	refs     map[DefKey][]Location
	byModule map[string]moduleEntry
}

func NewIndex() *Index {
	return &Index{
		defs:     make(map[DefKey]Definition),
		refs:     make(map[DefKey][]Location),
		byModule: make(map[string]moduleEntry),
	}
}

// UpdateModule replaces module's contribution to the index. aliases maps the
// module's import aliases to target module identities; a qualifier with no
// alias entry is taken as the module name itself.
func (x *Index) UpdateModule(module string, syms *engine.SymbolTable, refs []engine.Reference, aliases map[string]string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(module)

	entry := moduleEntry{}
	if syms != nil {
		for _, name := range syms.Order {
			d := syms.Decls[name]
			key := DefKey{Module: module, Name: name}
			x.defs[key] = Definition{Module: module, Decl: d}
			entry.defKeys = append(entry.defKeys, key)
			entry.sites = append(entry.sites, site{key: key, span: d.Span, nameSpan: d.NameSpan, isDef: true})
		}
	}

	seen := make(map[DefKey]bool)
	for _, ref := range refs {
		target := module
		if ref.Qualifier != "" {
			if m, ok := aliases[ref.Qualifier]; ok {
				target = m
			} else {
				target = ref.Qualifier
			}
		}
		key := DefKey{Module: target, Name: ref.Name}
		x.refs[key] = append(x.refs[key], Location{Module: module, Span: ref.Span, NameSpan: ref.NameSpan})
		if !seen[key] {
			seen[key] = true
			entry.refKeys = append(entry.refKeys, key)
		}
		entry.sites = append(entry.sites, site{key: key, span: ref.Span, nameSpan: ref.NameSpan})
	}

	x.byModule[module] = entry
}

// RemoveModule drops module's declarations and its references into other
// modules. References from other modules into module stay; they become
// unresolved until their owners re-analyze.
func (x *Index) RemoveModule(module string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(module)
}

func (x *Index) removeLocked(module string) {
	entry, ok := x.byModule[module]
	if !ok {
		return
	}
	for _, key := range entry.defKeys {
		delete(x.defs, key)
	}
	for _, key := range entry.refKeys {
		kept := x.refs[key][:0]
		for _, loc := range x.refs[key] {
			if loc.Module != module {
				kept = append(kept, loc)
			}
		}
		if len(kept) == 0 {
			delete(x.refs, key)
		} else {
			x.refs[key] = kept
		}
	}
	delete(x.byModule, module)
}

func (x *Index) DefinitionOf(module, name string) (Definition, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	def, ok := x.defs[DefKey{Module: module, Name: name}]
	return def, ok
}

// ReferencesOf returns every recorded occurrence of the symbol, sorted by
// module then position. The definition site is not included.
func (x *Index) ReferencesOf(module, name string) []Location {
	x.mu.RLock()
	defer x.mu.RUnlock()
	locs := append([]Location(nil), x.refs[DefKey{Module: module, Name: name}]...)
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Module != locs[j].Module {
			return locs[i].Module < locs[j].Module
		}
		return locs[i].Span.Start < locs[j].Span.Start
	})
	return locs
}

// RenameCandidates collects every NameSpan a rename of the symbol must edit,
// the definition included, grouped by module.
func (x *Index) RenameCandidates(module, name string) map[string][]engine.Span {
	x.mu.RLock()
	defer x.mu.RUnlock()
	key := DefKey{Module: module, Name: name}
	out := make(map[string][]engine.Span)
	if def, ok := x.defs[key]; ok {
		out[def.Module] = append(out[def.Module], def.Decl.NameSpan)
	}
	for _, loc := range x.refs[key] {
		out[loc.Module] = append(out[loc.Module], loc.NameSpan)
	}
	for m := range out {
		spans := out[m]
		sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
		out[m] = spans
	}
	return out
}

// SymbolAt finds the symbol whose occurrence covers the byte offset in
// module. Definition sites match on the declared identifier only, so
// hovering a keyword or a type body does not light up the whole line.
func (x *Index) SymbolAt(module string, offset int) (DefKey, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.byModule[module]
	if !ok {
		return DefKey{}, false
	}
	var best *site
	for i := range entry.sites {
		s := &entry.sites[i]
		covering := s.nameSpan
		if !s.isDef {
			covering = s.span
		}
		if !covering.Contains(offset) {
			continue
		}
		// Prefer the narrowest covering occurrence.
		if best == nil || covering.End-covering.Start < bestWidth(best) {
			best = s
		}
	}
	if best == nil {
		return DefKey{}, false
	}
	return best.key, true
}

func bestWidth(s *site) int {
	if s.isDef {
		return s.nameSpan.End - s.nameSpan.Start
	}
	return s.span.End - s.span.Start
}
