package document

import "sync"

// Source records where a module's text currently comes from: an open editor
// buffer (URI) or a file on disk (Path). Open buffers shadow disk content.
type Source struct {
	Module string
	URI    string
	Path   string
	Open   bool
}

// Sources is the bidirectional module/source registry shared by the
// scheduler, the LSP surface, and the disk watcher.
type Sources struct {
	mu       sync.RWMutex
	byModule map[string]Source
	byURI    map[string]string
	byPath   map[string]string
}

func NewSources() *Sources {
	return &Sources{
		byModule: make(map[string]Source),
		byURI:    make(map[string]string),
		byPath:   make(map[string]string),
	}
}

func (s *Sources) SetOpen(module, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byModule[module]
	src := Source{Module: module, URI: uri, Open: true}
	if ok {
		src.Path = prev.Path // remember disk shadow for close
	}
	s.byModule[module] = src
	s.byURI[uri] = module
}

func (s *Sources) SetDisk(module, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byModule[module]; ok && prev.Open {
		prev.Path = path
		s.byModule[module] = prev
		s.byPath[path] = module
		return
	}
	s.byModule[module] = Source{Module: module, Path: path}
	s.byPath[path] = module
}

// CloseOpen drops the open-buffer binding. If the module also exists on disk
// it stays registered as a disk source so importers keep resolving it.
func (s *Sources) CloseOpen(uri string) (module string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	module, ok = s.byURI[uri]
	if !ok {
		return "", false
	}
	delete(s.byURI, uri)
	src := s.byModule[module]
	if src.Path != "" {
		s.byModule[module] = Source{Module: module, Path: src.Path}
	} else {
		delete(s.byModule, module)
	}
	return module, true
}

func (s *Sources) Remove(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byModule[module]
	if !ok {
		return
	}
	delete(s.byModule, module)
	if src.URI != "" {
		delete(s.byURI, src.URI)
	}
	if src.Path != "" {
		delete(s.byPath, src.Path)
	}
}

func (s *Sources) Get(module string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.byModule[module]
	return src, ok
}

func (s *Sources) ModuleForURI(uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byURI[uri]
	return m, ok
}

func (s *Sources) ModuleForPath(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPath[path]
	return m, ok
}

func (s *Sources) OpenModules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for module, src := range s.byModule {
		if src.Open {
			out = append(out, module)
		}
	}
	return out
}
