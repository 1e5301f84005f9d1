// Package resolver maps import specs to module sources. Open editor buffers
// always win; otherwise the configured search paths are scanned for a
// matching .msl file, honoring exclusion globs.
package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/tliron/commonlog"

	"msls/internal/core/errors"
	"msls/internal/core/ports"
	"msls/internal/document"
)

const fileExtension = ".msl"

type Resolver struct {
	sources     *document.Sources
	searchPaths []string
	excludes    []glob.Glob
	log         commonlog.Logger
}

func New(sources *document.Sources, searchPaths []string, excludePatterns []string) (*Resolver, error) {
	r := &Resolver{
		sources:     sources,
		searchPaths: searchPaths,
		log:         commonlog.GetLogger("msls.resolver"),
	}
	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeResolution, "invalid exclude pattern "+pattern)
		}
		r.excludes = append(r.excludes, g)
	}
	return r, nil
}

// Resolve looks up spec, first among registered sources (open buffers and
// already-discovered disk modules), then on the search paths. fromModule is
// carried for error context only; resolution is workspace-global.
func (r *Resolver) Resolve(spec string, fromModule string) (ports.ResolvedModule, error) {
	if src, ok := r.sources.Get(spec); ok {
		return ports.ResolvedModule{Module: spec, Path: src.Path, OnDisk: !src.Open}, nil
	}

	for _, root := range r.searchPaths {
		for _, rel := range candidatePaths(spec) {
			if r.excluded(rel) {
				continue
			}
			full := filepath.Join(root, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				continue
			}
			r.log.Debugf("resolved %s to %s", spec, full)
			r.sources.SetDisk(spec, full)
			return ports.ResolvedModule{Module: spec, Path: full, OnDisk: true}, nil
		}
	}

	return ports.ResolvedModule{}, errors.AddContext(
		errors.Newf(errors.CodeResolution, "cannot resolve import %q", spec),
		errors.CtxModule, fromModule)
}

// candidatePaths maps a dotted spec onto the filesystem two ways: dots as
// directory separators ("a.b" -> a/b.msl) and as a flat file name
// ("a.b" -> a.b.msl). The nested form is preferred.
func candidatePaths(spec string) []string {
	nested := strings.ReplaceAll(spec, ".", "/") + fileExtension
	flat := spec + fileExtension
	if nested == flat {
		return []string{nested}
	}
	return []string{nested, flat}
}

func (r *Resolver) excluded(rel string) bool {
	for _, g := range r.excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
