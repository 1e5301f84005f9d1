package lsp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"msls/internal/analysis"
	"msls/internal/document"
	"msls/internal/engine"
	"msls/internal/engine/msl"
	"msls/internal/symbols"
	"msls/internal/text"
)

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.captureNotify(ctx)

	if params.RootURI != nil {
		s.rootPath = uriToPath(*params.RootURI)
	} else if params.RootPath != nil {
		s.rootPath = *params.RootPath
	}
	s.log.Infof("initializing, root %s", s.rootPath)

	capabilities := s.handler.CreateServerCapabilities()
	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &s.opts.Version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.captureNotify(ctx)
	s.log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(ctx *glsp.Context) error {
	s.Shutdown()
	return nil
}

func (s *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// cancelRequest acknowledges client cancels. Request ids are not visible to
// individual handlers, so actual abandonment happens through per-document
// supersession: an edit cancels the navigation requests running against the
// document.
func (s *Server) cancelRequest(ctx *glsp.Context, params *protocol.CancelParams) error {
	s.log.Debugf("cancel requested for %v", params.ID.Value)
	return nil
}

// moduleName derives the module identity for a buffer: the module header
// wins, the file name is the fallback for headerless scratch content.
func moduleName(header msl.Header, uri protocol.DocumentUri) string {
	if header.Module != "" {
		return header.Module
	}
	base := filepath.Base(uriToPath(uri))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.captureNotify(ctx)

	header := msl.ScanHeader([]byte(params.TextDocument.Text))
	module := moduleName(header, params.TextDocument.URI)
	doc := s.store.Open(params.TextDocument.URI, module, params.TextDocument.Text,
		params.TextDocument.Version, header.LanguageVersion)
	s.log.Debugf("opened %s as module %s", doc.URI, module)
	s.sched.DocumentOpened(doc)
	return nil
}

func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.captureNotify(ctx)
	uri := params.TextDocument.URI

	edits := make([]document.Edit, 0, len(params.ContentChanges))
	for _, raw := range params.ContentChanges {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				edits = append(edits, document.Edit{Full: true, Text: change.Text})
				continue
			}
			edits = append(edits, document.Edit{
				Start: toPosition(change.Range.Start),
				End:   toPosition(change.Range.End),
				Text:  change.Text,
			})
		case protocol.TextDocumentContentChangeEventWhole:
			edits = append(edits, document.Edit{Full: true, Text: change.Text})
		default:
			return fmt.Errorf("unexpected change event type %T", raw)
		}
	}

	updated, err := s.store.Change(uri, edits, params.TextDocument.Version)
	if err != nil {
		// Out-of-order or out-of-bounds edits reject the whole batch; the
		// client is expected to resend full content.
		s.log.Warningf("rejected change for %s: %v", uri, err)
		return err
	}

	s.pending.cancelFor(uri)

	// A renamed module header rebinds the buffer under its new identity.
	header := msl.ScanHeader([]byte(updated.Text))
	if module := moduleName(header, uri); module != updated.Module {
		s.log.Debugf("module %s renamed to %s", updated.Module, module)
		s.sched.DocumentClosed(uri)
		rebound := s.store.Open(uri, module, updated.Text, updated.Version, header.LanguageVersion)
		s.sched.DocumentOpened(rebound)
		return nil
	}

	s.sched.DocumentChanged(updated)
	return nil
}

func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.pending.cancelFor(uri)
	s.store.Close(uri)
	s.sched.DocumentClosed(uri)
	s.clearDiagnostics(ctx, uri)
	return nil
}

func (s *Server) workspaceDidChangeWatchedFiles(ctx *glsp.Context, params *protocol.DidChangeWatchedFilesParams) error {
	s.captureNotify(ctx)
	for _, change := range params.Changes {
		path := uriToPath(change.URI)
		switch change.Type {
		case protocol.FileChangeTypeDeleted:
			s.sched.FileRemoved(path)
		default:
			s.sched.FileChanged(path)
		}
	}
	return nil
}

// resultFor serves navigation: a cached result, stale or not, answers
// immediately; only a cold module forces synchronous analysis.
func (s *Server) resultFor(ctx context.Context, module string) (*analysis.Result, error) {
	if res, ok := s.sched.Peek(module); ok {
		return res, nil
	}
	return s.sched.EnsureAnalyzed(ctx, module)
}

func (s *Server) symbolAtPosition(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (symbols.DefKey, bool) {
	doc, found := s.store.Get(uri)
	if !found {
		return symbols.DefKey{}, false
	}
	if _, err := s.resultFor(ctx, doc.Module); err != nil {
		return symbols.DefKey{}, false
	}
	mapper := text.NewMapper(doc.Text)
	offset, err := mapper.Offset(toPosition(pos))
	if err != nil {
		return symbols.DefKey{}, false
	}
	return s.index.SymbolAt(doc.Module, offset)
}

func (s *Server) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.captureNotify(ctx)
	reqCtx, done := s.pending.track(context.Background(), params.TextDocument.URI)
	defer done()

	key, ok := s.symbolAtPosition(reqCtx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}
	def, ok := s.index.DefinitionOf(key.Module, key.Name)
	if !ok {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`", def.Decl.Kind, key.Name)
	if res, ok := s.sched.Peek(key.Module); ok {
		if sig := res.Types[key.Name]; sig != "" {
			fmt.Fprintf(&b, "\n\n```\n%s %s%s\n```", def.Decl.Kind, key.Name, signatureSuffix(def.Decl, sig))
		}
	}
	fmt.Fprintf(&b, "\n\ndefined in module `%s`", key.Module)

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}, nil
}

func signatureSuffix(d engine.Declaration, sig string) string {
	if d.Kind == engine.DeclOp {
		return sig
	}
	return ": " + sig
}

// locationFor maps a module-relative span to a client location, whether the
// module lives in an open buffer or on disk.
func (s *Server) locationFor(module string, span engine.Span) (protocol.Location, bool) {
	var uri protocol.DocumentUri
	var mapper *text.Mapper

	if doc, ok := s.store.GetByModule(module); ok {
		uri = doc.URI
		mapper = text.NewMapper(doc.Text)
	} else if src, ok := s.sources.Get(module); ok && src.Path != "" {
		data, _, err := s.texts.ModuleText(module)
		if err != nil {
			return protocol.Location{}, false
		}
		uri = pathToURI(src.Path)
		mapper = text.NewMapper(string(data))
	} else {
		return protocol.Location{}, false
	}

	return protocol.Location{URI: uri, Range: spanToRange(mapper, span, true)}, true
}

func (s *Server) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	s.captureNotify(ctx)
	reqCtx, done := s.pending.track(context.Background(), params.TextDocument.URI)
	defer done()

	key, ok := s.symbolAtPosition(reqCtx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}
	def, ok := s.index.DefinitionOf(key.Module, key.Name)
	if !ok {
		return nil, nil // unresolved reference, nothing to jump to
	}
	loc, ok := s.locationFor(def.Module, def.Decl.NameSpan)
	if !ok {
		return nil, nil
	}
	return loc, nil
}

func (s *Server) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	s.captureNotify(ctx)
	reqCtx, done := s.pending.track(context.Background(), params.TextDocument.URI)
	defer done()

	key, ok := s.symbolAtPosition(reqCtx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}

	var locations []protocol.Location
	if params.Context.IncludeDeclaration {
		if def, ok := s.index.DefinitionOf(key.Module, key.Name); ok {
			if loc, ok := s.locationFor(def.Module, def.Decl.NameSpan); ok {
				locations = append(locations, loc)
			}
		}
	}
	for _, ref := range s.index.ReferencesOf(key.Module, key.Name) {
		if loc, ok := s.locationFor(ref.Module, ref.NameSpan); ok {
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		digit := c >= '0' && c <= '9'
		if i == 0 && !letter {
			return false
		}
		if !letter && !digit {
			return false
		}
	}
	return true
}

func (s *Server) textDocumentRename(ctx *glsp.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	s.captureNotify(ctx)
	reqCtx, done := s.pending.track(context.Background(), params.TextDocument.URI)
	defer done()

	if !validIdentifier(params.NewName) {
		return nil, fmt.Errorf("%q is not a valid identifier", params.NewName)
	}

	key, ok := s.symbolAtPosition(reqCtx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}

	candidates := s.index.RenameCandidates(key.Module, key.Name)
	if len(candidates) == 0 {
		return nil, nil
	}

	changes := make(map[protocol.DocumentUri][]protocol.TextEdit)
	for module, spans := range candidates {
		for _, span := range spans {
			loc, ok := s.locationFor(module, span)
			if !ok {
				continue
			}
			changes[loc.URI] = append(changes[loc.URI], protocol.TextEdit{
				Range:   loc.Range,
				NewText: params.NewName,
			})
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &protocol.WorkspaceEdit{Changes: changes}, nil
}
