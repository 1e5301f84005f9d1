package document

import (
	"os"

	"msls/internal/core/errors"
)

// TextSource serves the current text of a module: the open buffer when one
// exists, otherwise the registered file on disk.
type TextSource struct {
	store   *Store
	sources *Sources
}

func NewTextSource(store *Store, sources *Sources) *TextSource {
	return &TextSource{store: store, sources: sources}
}

func (t *TextSource) ModuleText(module string) ([]byte, int32, error) {
	if doc, ok := t.store.GetByModule(module); ok {
		return []byte(doc.Text), doc.Version, nil
	}
	src, ok := t.sources.Get(module)
	if !ok || src.Path == "" {
		return nil, 0, errors.New(errors.CodeNotFound, "no source for module "+module)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeNotFound, "read module "+module)
	}
	return data, 0, nil
}
