// Package msl implements the reference source engine for the modeling
// language: a line-oriented parser plus a name and effect checker. The
// engine is a pure function of its input, which is what makes analysis
// results cacheable by fingerprint.
package msl

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"msls/internal/engine"
	"msls/internal/shared/observability"
)

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// ParseAndCheck runs the full pipeline over one module. The context is
// consulted between phases; a cancelled call returns ctx.Err() and no
// partial output.
func (e *Engine) ParseAndCheck(ctx context.Context, in engine.CheckInput) (engine.CheckOutput, error) {
	start := time.Now()
	ctx, span := observability.Tracer.Start(ctx, "msl.ParseAndCheck")
	span.SetAttributes(attribute.String("module", in.Module))
	defer span.End()

	observability.EngineCallsTotal.Inc()

	if err := ctx.Err(); err != nil {
		observability.EngineCallDuration.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
		return engine.CheckOutput{}, err
	}

	mod, parseDiags := parse(in.Text)

	if err := ctx.Err(); err != nil {
		observability.EngineCallDuration.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
		return engine.CheckOutput{}, err
	}

	out := check(mod, parseDiags, in)

	observability.EngineCallDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return out, nil
}

// Header is the cheap pre-parse of a module: just enough to place the
// module in the graph before full analysis runs.
type Header struct {
	Module          string
	LanguageVersion string
	Imports         []engine.ImportDecl
}

// ScanHeader extracts the module name and import clauses without running
// the checker. The scheduler calls this on every edit to keep graph edges
// current at low cost.
func ScanHeader(text []byte) Header {
	mod, _ := parse(text)
	return Header{
		Module:          mod.syntax.Name,
		LanguageVersion: mod.syntax.LanguageVersion,
		Imports:         mod.syntax.Imports,
	}
}
