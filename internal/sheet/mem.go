package sheet

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	headers []string
	rows    []Row
}

func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[string]*memTable)}
}

func (s *MemStore) EnsureTable(_ context.Context, table string, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; ok {
		return nil
	}
	hs := make([]string, len(headers))
	copy(hs, headers)
	s.tables[table] = &memTable{headers: hs}
	return nil
}

func (s *MemStore) ReadAll(_ context.Context, table string) ([]string, []Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	headers := make([]string, len(t.headers))
	copy(headers, t.headers)
	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		rows[i] = r.Clone()
	}
	return headers, rows, nil
}

func (s *MemStore) AppendRows(_ context.Context, table string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for _, r := range rows {
		t.rows = append(t.rows, r.Clone())
	}
	return nil
}

func (s *MemStore) WriteRow(_ context.Context, table string, pos int, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if pos < 1 || pos > len(t.rows) {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	t.rows[pos-1] = row.Clone()
	return nil
}

func (s *MemStore) WriteRange(_ context.Context, table string, start int, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if start < 1 || start-1+len(rows) > len(t.rows) {
		return fmt.Errorf("%w: %s rows %d-%d", ErrRowOutOfRange, table, start, start-1+len(rows))
	}
	for i, r := range rows {
		t.rows[start-1+i] = r.Clone()
	}
	return nil
}

func (s *MemStore) SetCell(_ context.Context, table string, pos int, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if pos < 1 || pos > len(t.rows) {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	hm := Headers(t.headers)
	col, ok := hm.Col(column)
	if !ok {
		return fmt.Errorf("sheet: column %q not found in %s", column, table)
	}
	row := t.rows[pos-1]
	for len(row) <= col {
		row = append(row, "")
	}
	row[col] = value
	t.rows[pos-1] = row
	return nil
}

func (s *MemStore) DeleteRow(_ context.Context, table string, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if pos < 1 || pos > len(t.rows) {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	t.rows = append(t.rows[:pos-1], t.rows[pos:]...)
	return nil
}

func (s *MemStore) ClearAndRewrite(_ context.Context, table string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	t.rows = nil
	for _, r := range rows {
		t.rows = append(t.rows, r.Clone())
	}
	return nil
}

func (s *MemStore) LastRow(_ context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return len(t.rows), nil
}

var _ Store = (*MemStore)(nil)
