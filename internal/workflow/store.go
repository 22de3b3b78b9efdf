package workflow

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
)

const (
	// DefinitionExt is the file extension of graph definitions.
	DefinitionExt = ".json"

	// DefaultGraphName is loaded when no name is given.
	DefaultGraphName = "workflow.json"
)

// CacheRecorder observes graph cache lookups.
type CacheRecorder interface {
	ObserveGraphLookup(hit bool)
}

// StoreOption configures a Store during construction.
type StoreOption func(*Store)

// WithDefaultGraph sets the name loaded when Load is called with "".
func WithDefaultGraph(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.defaultName = name
		}
	}
}

// WithStoreLogger configures structured logging.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithCacheRecorder reports cache hits and misses.
func WithCacheRecorder(r CacheRecorder) StoreOption {
	return func(s *Store) { s.recorder = r }
}

// Store loads graph definitions from a directory and caches parsed graphs
// by resolved name. Cached graphs are shared and must not be mutated.
type Store struct {
	fsys        fs.FS
	location    string
	defaultName string
	logger      *slog.Logger
	recorder    CacheRecorder

	mu    sync.Mutex
	cache map[string]*Graph
	gen   uint64 // bumped by Invalidate
}

// NewStore returns a Store reading definitions from the root of fsys.
// location names the directory in messages and listings.
func NewStore(fsys fs.FS, location string, opts ...StoreOption) *Store {
	s := &Store{
		fsys:        fsys,
		location:    location,
		defaultName: DefaultGraphName,
		cache:       make(map[string]*Graph),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.defaultName = normalizeName(s.defaultName)
	return s
}

// Location returns the directory label given to NewStore.
func (s *Store) Location() string { return s.location }

// DefaultName returns the resolved default graph name.
func (s *Store) DefaultName() string { return s.defaultName }

// Resolve maps a requested name to the cache key and file name used by Load:
// empty means the default graph, and a missing extension gets DefinitionExt.
// Names that are not plain file names fail with ErrGraphNotFound.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" {
		return s.defaultName, nil
	}
	resolved := normalizeName(name)
	if strings.ContainsAny(resolved, `/\`) || !fs.ValidPath(resolved) || resolved == "." {
		return "", fmt.Errorf("%w: invalid graph name %q", ErrGraphNotFound, name)
	}
	return resolved, nil
}

func normalizeName(name string) string {
	if path.Ext(name) == "" {
		return name + DefinitionExt
	}
	return name
}

// List returns the definition names in the directory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWorkspaceUnavailable, s.location, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), DefinitionExt) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Load returns the parsed graph for name, reading and validating it on the
// first request and serving the cached master afterwards.
func (s *Store) Load(name string) (*Graph, error) {
	key, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached, ok := s.cache[key]
	gen := s.gen
	s.mu.Unlock()
	s.observe(ok)
	if ok {
		return cached, nil
	}

	data, err := fs.ReadFile(s.fsys, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrGraphNotFound, key, s.location)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrWorkspaceUnavailable, key, err)
	}
	g, err := Parse(key, data)
	if err != nil {
		s.logger.Warn("graph rejected", "name", key, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache[key]; ok {
		return existing, nil
	}
	if s.gen != gen {
		// Invalidated while reading; the definition may already be newer.
		return g, nil
	}
	s.cache[key] = g
	s.logger.Debug("graph loaded", "name", key, "nodes", g.Len())
	return g, nil
}

// Invalidate drops the cached graph for name, or every cached graph when name
// is empty, so the next Load re-reads the definition.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if name == "" {
		clear(s.cache)
		s.logger.Debug("graph cache cleared")
		return
	}
	key, err := s.Resolve(name)
	if err != nil {
		return
	}
	if _, ok := s.cache[key]; ok {
		delete(s.cache, key)
		s.logger.Debug("graph invalidated", "name", key)
	}
}

func (s *Store) observe(hit bool) {
	if s.recorder != nil {
		s.recorder.ObserveGraphLookup(hit)
	}
}
