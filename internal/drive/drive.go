// Package drive abstracts the document-folder backend used for clinic
// and participant records.
package drive

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("drive: folder not found")

// Folder is a reference to a stored folder.
type Folder struct {
	ID   string
	Name string
}

// Store is the folder backend. Implementations return stable folder IDs
// that callers persist next to the records they belong to.
type Store interface {
	// CreateFolder creates a folder under the given parent and returns it.
	// An empty parent means the backend root.
	CreateFolder(ctx context.Context, parent, name string) (Folder, error)
	// FoldersByName returns every folder under parent with the exact name,
	// oldest first. Callers that expect a single match should warn when
	// more than one comes back.
	FoldersByName(ctx context.Context, parent, name string) ([]Folder, error)
	// RenameFolder changes the display name of an existing folder.
	RenameFolder(ctx context.Context, id, name string) error
	// FolderByID resolves a stored folder reference.
	FolderByID(ctx context.Context, id string) (Folder, error)
}

// MemStore is an in-memory Store for tests and local runs.
type MemStore struct {
	mu      sync.Mutex
	folders map[string]*memFolder
	seq     int
}

type memFolder struct {
	id     string
	parent string
	name   string
	order  int
}

func NewMemStore() *MemStore {
	return &MemStore{folders: make(map[string]*memFolder)}
}

func (m *MemStore) CreateFolder(_ context.Context, parent, name string) (Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	f := &memFolder{id: uuid.NewString(), parent: parent, name: name, order: m.seq}
	m.folders[f.id] = f
	return Folder{ID: f.id, Name: f.name}, nil
}

func (m *MemStore) FoldersByName(_ context.Context, parent, name string) ([]Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []*memFolder
	for _, f := range m.folders {
		if f.parent == parent && f.name == name {
			hits = append(hits, f)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].order < hits[j].order })
	out := make([]Folder, 0, len(hits))
	for _, f := range hits {
		out = append(out, Folder{ID: f.id, Name: f.name})
	}
	return out, nil
}

func (m *MemStore) RenameFolder(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return ErrNotFound
	}
	f.name = name
	return nil
}

func (m *MemStore) FolderByID(_ context.Context, id string) (Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return Folder{}, ErrNotFound
	}
	return Folder{ID: f.id, Name: f.name}, nil
}
