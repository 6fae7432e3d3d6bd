package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory backend used by tests and dry runs. It tracks the
// flushed prefix of every artifact separately from written bytes, which
// lets callers assert the flush-before-forward ordering.
type Memory struct {
	mu      sync.Mutex
	objects map[string]*memObject
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

// Open creates a new in-memory artifact at path.
func (m *Memory) Open(_ context.Context, path string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[path]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPathConflict, path)
	}

	obj := &memObject{path: path, backend: m}
	m.objects[path] = obj

	return obj, nil
}

// Exists reports whether an artifact was opened at path.
func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[path]

	return ok, nil
}

// Paths returns every opened artifact path, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.objects))
	for path := range m.objects {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

// Data returns all bytes written to the artifact at path.
func (m *Memory) Data(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil
	}

	return append([]byte(nil), obj.data...)
}

// Flushed returns the prefix of the artifact that has been flushed.
func (m *Memory) Flushed(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil
	}

	return append([]byte(nil), obj.data[:obj.flushed]...)
}

// Closed reports whether the artifact at path has been closed.
func (m *Memory) Closed(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[path]

	return ok && obj.closed
}

// memObject is one in-memory artifact; it doubles as its own Stream.
type memObject struct {
	path    string
	backend *Memory
	data    []byte
	flushed int
	closed  bool
}

func (o *memObject) Write(p []byte) (int, error) {
	o.backend.mu.Lock()
	defer o.backend.mu.Unlock()

	if o.closed {
		return 0, ErrStreamClosed
	}

	o.data = append(o.data, p...)

	return len(p), nil
}

func (o *memObject) Flush() error {
	o.backend.mu.Lock()
	defer o.backend.mu.Unlock()

	if o.closed {
		return ErrStreamClosed
	}

	o.flushed = len(o.data)

	return nil
}

func (o *memObject) Close() error {
	o.backend.mu.Lock()
	defer o.backend.mu.Unlock()

	if o.closed {
		return ErrStreamClosed
	}

	o.closed = true
	o.flushed = len(o.data)

	return nil
}

func (o *memObject) Path() string {
	return o.path
}
