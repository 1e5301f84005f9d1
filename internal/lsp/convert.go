package lsp

import (
	"net/url"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"msls/internal/engine"
	"msls/internal/text"
)

func uriToPath(uri protocol.DocumentUri) string {
	s := string(uri)
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	if parsed, err := url.Parse(s); err == nil {
		return parsed.Path
	}
	return strings.TrimPrefix(s, "file://")
}

func pathToURI(path string) protocol.DocumentUri {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

func toPosition(p protocol.Position) text.Position {
	return text.Position{Line: int(p.Line), Character: int(p.Character)}
}

func fromPosition(p text.Position) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(p.Line), Character: protocol.UInteger(p.Character)}
}

// spanToRange converts a byte span to a protocol range. With endExclusive
// false the range is shrunk to end on the last byte of the span, which some
// clients render better for squiggles.
func spanToRange(mapper *text.Mapper, span engine.Span, endExclusive bool) protocol.Range {
	start, err := mapper.Position(span.Start)
	if err != nil {
		start = text.Position{}
	}
	endOffset := span.End
	if !endExclusive && span.End > span.Start {
		endOffset = span.End - 1
	}
	end, err := mapper.Position(endOffset)
	if err != nil {
		end = start
	}
	return protocol.Range{Start: fromPosition(start), End: fromPosition(end)}
}

var severityMap = map[engine.Severity]protocol.DiagnosticSeverity{
	engine.SeverityError:       protocol.DiagnosticSeverityError,
	engine.SeverityWarning:     protocol.DiagnosticSeverityWarning,
	engine.SeverityInformation: protocol.DiagnosticSeverityInformation,
	engine.SeverityHint:        protocol.DiagnosticSeverityHint,
}

const diagnosticSource = "msls"

func toProtocolDiagnostics(mapper *text.Mapper, diags []engine.Diagnostic, endExclusive bool) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity, ok := severityMap[d.Severity]
		if !ok {
			severity = protocol.DiagnosticSeverityError
		}
		source := diagnosticSource
		code := protocol.IntegerOrString{Value: string(d.Kind)}
		out = append(out, protocol.Diagnostic{
			Range:    spanToRange(mapper, d.Span, endExclusive),
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}
