package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"msls/internal/analysis"
	"msls/internal/engine"
	"msls/internal/engine/msl"
	"msls/internal/modgraph"
	"msls/internal/shared/observability"
)

// ensureAnalyzed produces an up-to-date Result for the module, analyzing
// dependencies first. visiting guards against import cycles: a back edge is
// served from cache (possibly stale) instead of recursing forever.
func (s *Scheduler) ensureAnalyzed(ctx context.Context, module string, visiting map[string]bool) (*analysis.Result, error) {
	if visiting[module] {
		if res, _, ok := s.cache.Peek(module); ok {
			return res, nil
		}
		return nil, nil
	}
	visiting[module] = true
	defer delete(visiting, module)

	ctx, span := observability.Tracer.Start(ctx, "scheduler.ensureAnalyzed")
	span.SetAttributes(attribute.String("module", module))
	defer span.End()

	text, version, err := s.texts.ModuleText(module)
	if err != nil {
		return nil, err
	}

	header := msl.ScanHeader(text)
	specs := make([]string, 0, len(header.Imports))
	for _, imp := range header.Imports {
		specs = append(specs, imp.Spec)
	}
	s.graph.SetImports(module, specs)
	observability.GraphModules.Set(float64(s.graph.ModuleCount()))

	closing := closingEdges(s.graph.DetectCycles())

	var (
		bindings   []analysis.ImportBinding
		inputs     []engine.ImportInput
		depFPs     []analysis.Fingerprint
		extraDiags []engine.Diagnostic
	)

	for _, imp := range header.Imports {
		binding := analysis.ImportBinding{
			Spec:     imp.Spec,
			Alias:    imp.Alias,
			Module:   imp.Spec,
			SpecSpan: imp.SpecSpan,
		}

		if cycle, ok := closing[edgeKey{module, imp.Spec}]; ok {
			extraDiags = append(extraDiags, engine.Diagnostic{
				Kind:     engine.KindCycleError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("import cycle: %s", cyclePath(cycle)),
				Span:     imp.SpecSpan,
			})
			// Dependency analysis treats the closing edge as absent; the
			// import still resolves from whatever the cache holds.
			if depRes, _, ok := s.cache.Peek(imp.Spec); ok {
				inputs = append(inputs, engine.ImportInput{
					Spec: imp.Spec, Alias: imp.Alias, Module: imp.Spec, Symbols: depRes.Symbols,
				})
				depFPs = append(depFPs, depRes.Fingerprint)
			} else {
				binding.Missing = true
				inputs = append(inputs, engine.ImportInput{Spec: imp.Spec, Alias: imp.Alias, Missing: true})
				depFPs = append(depFPs, analysis.MissingFingerprint(imp.Spec))
			}
			bindings = append(bindings, binding)
			continue
		}

		resolved, resolveErr := s.resolver.Resolve(imp.Spec, module)
		var depRes *analysis.Result
		if resolveErr == nil {
			depRes, err = s.ensureAnalyzed(ctx, resolved.Module, visiting)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.log.Warningf("dependency %s of %s failed: %v", imp.Spec, module, err)
				depRes = nil
			}
		}

		if depRes == nil {
			binding.Missing = true
			extraDiags = append(extraDiags, engine.Diagnostic{
				Kind:     engine.KindResolutionError,
				Severity: engine.SeverityError,
				Message:  fmt.Sprintf("cannot resolve import %q", imp.Spec),
				Span:     imp.SpecSpan,
			})
			inputs = append(inputs, engine.ImportInput{Spec: imp.Spec, Alias: imp.Alias, Missing: true})
			depFPs = append(depFPs, analysis.MissingFingerprint(imp.Spec))
			bindings = append(bindings, binding)
			continue
		}

		binding.Module = resolved.Module
		inputs = append(inputs, engine.ImportInput{
			Spec: imp.Spec, Alias: imp.Alias, Module: resolved.Module, Symbols: depRes.Symbols,
		})
		depFPs = append(depFPs, depRes.Fingerprint)
		bindings = append(bindings, binding)
	}

	fp := analysis.NewFingerprint(text, depFPs)
	res, err := s.cache.GetOrCompute(ctx, module, fp, func(ctx context.Context) (*analysis.Result, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// The limiter refuses up front when the wait cannot finish
			// before the analysis deadline; that is the deadline expiring.
			return nil, context.DeadlineExceeded
		}
		out, err := s.engine.ParseAndCheck(ctx, engine.CheckInput{
			Module:  module,
			Text:    text,
			Imports: inputs,
		})
		if err != nil {
			return nil, err
		}
		diags := mergeDiagnostics(out.Diagnostics, extraDiags)
		return &analysis.Result{
			Module:      module,
			Fingerprint: fp,
			Version:     version,
			AST:         out.AST,
			Diagnostics: diags,
			Symbols:     out.Symbols,
			References:  out.References,
			Types:       out.Types,
			Imports:     bindings,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	aliases := make(map[string]string, len(res.Imports))
	for _, b := range res.Imports {
		aliases[b.Alias] = b.Module
	}
	s.index.UpdateModule(module, res.Symbols, res.References, aliases)
	return res, nil
}

type edgeKey struct{ from, to string }

func closingEdges(cycles []modgraph.Cycle) map[edgeKey]modgraph.Cycle {
	out := make(map[edgeKey]modgraph.Cycle, len(cycles))
	for _, c := range cycles {
		out[edgeKey{c.From, c.To}] = c
	}
	return out
}

func cyclePath(c modgraph.Cycle) string {
	parts := append([]string(nil), c.Path...)
	parts = append(parts, c.To)
	return strings.Join(parts, " -> ")
}

// mergeDiagnostics combines engine output with resolution and cycle
// diagnostics in position order, so the published list is stable.
func mergeDiagnostics(engineDiags, extra []engine.Diagnostic) []engine.Diagnostic {
	if len(extra) == 0 {
		return engineDiags
	}
	out := make([]engine.Diagnostic, 0, len(engineDiags)+len(extra))
	out = append(out, engineDiags...)
	out = append(out, extra...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}
