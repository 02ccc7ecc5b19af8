// Package schema provides declared table and key metadata for the
// relationship enhancer.
package schema

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrTableNotFound is returned when a table is not declared.
var ErrTableNotFound = errors.New("table not found")

// TableRef identifies a declared table.
type TableRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns OWNER.NAME, or NAME when the owner is empty.
func (t TableRef) FullName() string {
	if t.Owner == "" {
		return t.Name
	}
	return t.Owner + "." + t.Name
}

// Column is one declared column.
type Column struct {
	Table      TableRef `json:"table"`
	Name       string   `json:"name"`
	PrimaryKey bool     `json:"primary_key"`
}

// SplitTableName splits "OWNER.TABLE" into its parts. Names are upper-cased.
func SplitTableName(name string) (owner, table string) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// MemoryStore is an in-memory schema used by tests and small runs.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string][]TableRef // upper name -> declarations
	primary map[string]bool       // OWNER.TABLE.COLUMN, upper
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string][]TableRef),
		primary: make(map[string]bool),
	}
}

// AddColumn declares a column, registering its table on first use.
func (m *MemoryStore) AddColumn(c Column) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := TableRef{Owner: strings.ToUpper(c.Table.Owner), Name: strings.ToUpper(c.Table.Name)}
	known := false
	for _, t := range m.tables[ref.Name] {
		if t == ref {
			known = true
			break
		}
	}
	if !known {
		m.tables[ref.Name] = append(m.tables[ref.Name], ref)
	}
	if c.PrimaryKey {
		m.primary[ref.FullName()+"."+strings.ToUpper(c.Name)] = true
	}
}

// FindTable looks up a table. An empty owner matches any owner; the first
// declaration wins.
func (m *MemoryStore) FindTable(_ context.Context, owner, name string) (TableRef, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, name = strings.ToUpper(owner), strings.ToUpper(name)
	for _, t := range m.tables[name] {
		if owner == "" || t.Owner == owner {
			return t, true, nil
		}
	}
	return TableRef{}, false, nil
}

// IsPrimaryKey reports whether column is part of the primary key of table.
// table may be owner-qualified.
func (m *MemoryStore) IsPrimaryKey(ctx context.Context, table, column string) (bool, error) {
	owner, name := SplitTableName(table)
	ref, ok, err := m.FindTable(ctx, owner, name)
	if err != nil || !ok {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary[ref.FullName()+"."+strings.ToUpper(column)], nil
}
