// Package document tracks the text and version of every open editor buffer.
package document

import (
	"strings"
	"sync"

	"msls/internal/core/errors"
	"msls/internal/text"
)

// Edit is one incremental change. Ranges address the document as it stands
// after all preceding edits in the same batch, matching the protocol's
// contentChanges semantics. Full replaces the whole buffer.
type Edit struct {
	Start text.Position
	End   text.Position
	Text  string
	Full  bool
}

// Document is one open buffer. Snapshots handed out by the store are
// immutable; the store replaces the whole value on every change.
type Document struct {
	URI             string
	Module          string
	Text            string
	Version         int32
	LanguageVersion string
}

type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*Document)}
}

func (s *Store) Open(uri, module, content string, version int32, languageVersion string) *Document {
	doc := &Document{
		URI:             uri,
		Module:          module,
		Text:            content,
		Version:         version,
		LanguageVersion: languageVersion,
	}
	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()
	return doc
}

// Change applies one version bump atomically: either every edit lands and the
// new text becomes visible at newVersion, or the document is left untouched.
// An incremental batch whose version is not current+1 fails with
// OUT_OF_ORDER_EDIT; the caller is expected to request a full resync from the
// client. A full-sync batch replaces the whole buffer and therefore only
// needs a version newer than the current one — this is the recovery path
// after an out-of-order rejection.
func (s *Store) Change(uri string, edits []Edit, newVersion int32) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "document not open: "+uri)
	}
	if fullSync(edits) {
		if newVersion <= doc.Version {
			return nil, errors.Newf(errors.CodeOutOfOrderEdit,
				"full sync at version %d does not supersede %d for %s", newVersion, doc.Version, uri)
		}
	} else if newVersion != doc.Version+1 {
		return nil, errors.Newf(errors.CodeOutOfOrderEdit,
			"version %d does not follow %d for %s", newVersion, doc.Version, uri)
	}

	content := doc.Text
	for _, edit := range edits {
		if edit.Full {
			content = edit.Text
			continue
		}
		next, err := applyEdit(content, edit)
		if err != nil {
			return nil, err
		}
		content = next
	}

	updated := &Document{
		URI:             doc.URI,
		Module:          doc.Module,
		Text:            content,
		Version:         newVersion,
		LanguageVersion: doc.LanguageVersion,
	}
	s.docs[uri] = updated
	return updated, nil
}

// fullSync reports whether the batch discards the previous text entirely,
// making the skipped intermediate versions irrelevant.
func fullSync(edits []Edit) bool {
	if len(edits) == 0 {
		return false
	}
	for _, e := range edits {
		if !e.Full {
			return false
		}
	}
	return true
}

func applyEdit(content string, edit Edit) (string, error) {
	mapper := text.NewMapper(content)
	start, err := mapper.Offset(edit.Start)
	if err != nil {
		return "", err
	}
	end, err := mapper.Offset(edit.End)
	if err != nil {
		return "", err
	}
	if end < start {
		return "", errors.Newf(errors.CodePositionOutOfBounds,
			"edit range end %d before start %d", end, start)
	}
	var b strings.Builder
	b.Grow(len(content) - (end - start) + len(edit.Text))
	b.WriteString(content[:start])
	b.WriteString(edit.Text)
	b.WriteString(content[end:])
	return b.String(), nil
}

func (s *Store) Close(uri string) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

func (s *Store) Get(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

func (s *Store) GetByModule(module string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.Module == module {
			return doc, true
		}
	}
	return nil, false
}

func (s *Store) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs
}
