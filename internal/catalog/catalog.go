// Package catalog holds the descriptive snapshot of schemas, tables and
// columns that generated SQL is allowed to touch. The snapshot is the single
// source of truth for both prompt construction and SQL validation.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable reports that the allow-listed schemas could not be
// introspected. Fatal for request processing, retryable at startup.
var ErrUnavailable = errors.New("catalog: unavailable")

// AllowList is the operator-provided, versioned scope of the catalog.
// Schemas lists the allowed schema names. Tables, when non-empty, narrows the
// scope to specific "schema.table" names. Descriptions carries optional
// human-readable text keyed by "schema" and "schema.table".
type AllowList struct {
	Schemas      []string
	Tables       []string
	Descriptions map[string]string
}

// AllowsTable reports whether a "schema.table" name passes the allow-list.
func (a AllowList) AllowsTable(schema, table string) bool {
	allowedSchema := false
	for _, s := range a.Schemas {
		if strings.EqualFold(s, schema) {
			allowedSchema = true
			break
		}
	}
	if !allowedSchema {
		return false
	}
	if len(a.Tables) == 0 {
		return true
	}
	qualified := schema + "." + table
	for _, t := range a.Tables {
		if strings.EqualFold(t, qualified) {
			return true
		}
	}
	return false
}

type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

type Schema struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Tables      []Table `json:"tables"`
}

// Metadata is an immutable snapshot of the allow-listed schemas.
type Metadata struct {
	Schemas  []Schema  `json:"schemas"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Empty reports whether the snapshot has not been loaded yet.
func (m Metadata) Empty() bool {
	return len(m.Schemas) == 0
}

// ContainsTable resolves a table reference against the snapshot. The name may
// be bare ("users") or schema-qualified ("bi_reports.users").
func (m Metadata) ContainsTable(name string) bool {
	schema, table := splitQualified(name)
	for _, s := range m.Schemas {
		if schema != "" && !strings.EqualFold(s.Name, schema) {
			continue
		}
		for _, t := range s.Tables {
			if strings.EqualFold(t.Name, table) {
				return true
			}
		}
	}
	return false
}

// Contains reports whether the given table holds the given column. An empty
// table name checks the column against every table in the snapshot.
func (m Metadata) Contains(table, column string) bool {
	schema, bare := splitQualified(table)
	for _, s := range m.Schemas {
		if schema != "" && !strings.EqualFold(s.Name, schema) {
			continue
		}
		for _, t := range s.Tables {
			if bare != "" && !strings.EqualFold(t.Name, bare) {
				continue
			}
			for _, c := range t.Columns {
				if strings.EqualFold(c.Name, column) {
					return true
				}
			}
		}
	}
	return false
}

func splitQualified(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// Loader introspects the warehouse and produces a Metadata snapshot.
type Loader interface {
	Introspect(ctx context.Context, allowList AllowList) (Metadata, error)
}

// Catalog caches the latest snapshot behind a mutex. Load replaces the
// snapshot atomically; Describe and the resolver methods read it without
// blocking loads in progress.
type Catalog struct {
	loader    Loader
	allowList AllowList

	mu   sync.RWMutex
	meta Metadata
}

func New(loader Loader, allowList AllowList) *Catalog {
	return &Catalog{loader: loader, allowList: allowList}
}

// Load introspects the allow-listed schemas and replaces the snapshot.
// Failure keeps the previous snapshot, if any.
func (c *Catalog) Load(ctx context.Context) error {
	meta, err := c.loader.Introspect(ctx, c.allowList)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
	return nil
}

// Describe returns the current snapshot.
func (c *Catalog) Describe() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// Ready reports whether a snapshot has been loaded.
func (c *Catalog) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.meta.Empty()
}

func (c *Catalog) ContainsTable(name string) bool {
	return c.Describe().ContainsTable(name)
}

func (c *Catalog) Contains(table, column string) bool {
	return c.Describe().Contains(table, column)
}
