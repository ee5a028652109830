// Package memstore is a deterministic in-memory document store. It backs
// tests and simulate mode with the same snapshot semantics as the cloud
// store: full-document delivery on every change, Added-for-everything on
// subscribe, deep-merged sets, dotted-path updates.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gpiobridge-go/store"
)

type docWatcher struct {
	path string
	fn   func(map[string]any)
}

type colWatcher struct {
	path string
	fn   func([]store.Change)
}

type Store struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	docWatch map[string]*docWatcher
	colWatch map[string]*colWatcher
	now      func() time.Time
}

// New creates an empty store. The clock is only used to resolve
// ServerTimestamp sentinels.
func New() *Store {
	return &Store{
		docs:     map[string]map[string]any{},
		docWatch: map[string]*docWatcher{},
		colWatch: map[string]*colWatcher{},
		now:      time.Now,
	}
}

// SetClock replaces the sentinel-resolution clock (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Set(_ context.Context, path string, data map[string]any, merge bool) error {
	s.mu.Lock()
	_, existed := s.docs[path]
	if merge && existed {
		deepMerge(s.docs[path], s.resolve(data))
	} else {
		s.docs[path] = s.resolve(data)
	}
	notify := s.collect(path, changeKind(existed))
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (s *Store) Update(_ context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	doc, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	for fieldPath, v := range fields {
		setDotted(doc, fieldPath, s.resolveValue(v))
	}
	notify := s.collect(path, store.Modified)
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (s *Store) Get(_ context.Context, path string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMap(doc), nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	_, existed := s.docs[path]
	delete(s.docs, path)
	var notify []func()
	if existed {
		notify = s.collect(path, store.Removed)
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (s *Store) OnSnapshot(path string, fn func(map[string]any)) (func(), error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.docWatch[id] = &docWatcher{path: path, fn: fn}
	var initial map[string]any
	if doc, ok := s.docs[path]; ok {
		initial = copyMap(doc)
	}
	s.mu.Unlock()

	fn(initial)
	return func() {
		s.mu.Lock()
		delete(s.docWatch, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) OnCollection(path string, fn func([]store.Change)) (func(), error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.colWatch[id] = &colWatcher{path: path, fn: fn}
	var initial []store.Change
	for docPath, doc := range s.docs {
		if col, docID, ok := splitDoc(docPath); ok && col == path {
			initial = append(initial, store.Change{Kind: store.Added, ID: docID, Data: copyMap(doc)})
		}
	}
	s.mu.Unlock()

	if len(initial) > 0 {
		fn(initial)
	}
	return func() {
		s.mu.Lock()
		delete(s.colWatch, id)
		s.mu.Unlock()
	}, nil
}

// Close drops all watchers; later writes still land but notify nobody.
func (s *Store) Close() error {
	s.mu.Lock()
	s.docWatch = map[string]*docWatcher{}
	s.colWatch = map[string]*colWatcher{}
	s.mu.Unlock()
	return nil
}

// collect gathers notification closures under the lock; callers invoke them
// after releasing it so callbacks may re-enter the store.
func (s *Store) collect(path string, kind store.ChangeKind) []func() {
	var out []func()
	var snap map[string]any
	if doc, ok := s.docs[path]; ok {
		snap = copyMap(doc)
	}
	for _, w := range s.docWatch {
		if w.path == path {
			fn, data := w.fn, snap
			out = append(out, func() { fn(data) })
		}
	}
	if col, docID, ok := splitDoc(path); ok {
		for _, w := range s.colWatch {
			if w.path == col {
				fn := w.fn
				ch := store.Change{Kind: kind, ID: docID, Data: snap}
				out = append(out, func() { fn([]store.Change{ch}) })
			}
		}
	}
	return out
}

func changeKind(existed bool) store.ChangeKind {
	if existed {
		return store.Modified
	}
	return store.Added
}

// splitDoc splits "a/b/c/d" into collection "a/b/c" and id "d" when the
// path addresses a document (even segment count).
func splitDoc(path string) (col, id string, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts)%2 != 0 {
		return "", "", false
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], true
}

func (s *Store) resolve(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = s.resolveValue(v)
	}
	return out
}

func (s *Store) resolveValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return s.resolve(t)
	default:
		if v == store.ServerTimestamp {
			return s.now()
		}
		return v
	}
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

func setDotted(doc map[string]any, fieldPath string, v any) {
	parts := strings.Split(fieldPath, ".")
	for len(parts) > 1 {
		next, ok := doc[parts[0]].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[parts[0]] = next
		}
		doc = next
		parts = parts[1:]
	}
	doc[parts[0]] = v
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
