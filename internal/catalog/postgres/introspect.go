package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datachat/datachat/internal/catalog"
)

// Introspector reads table and column metadata for the allow-listed schemas
// from information_schema.
type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

func (i *Introspector) HealthCheck(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping warehouse db: %w", err)
	}
	return nil
}

const columnsQuery = `
SELECT table_schema, table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = ANY($1)
ORDER BY table_schema, table_name, ordinal_position`

func (i *Introspector) Introspect(ctx context.Context, allowList catalog.AllowList) (catalog.Metadata, error) {
	if len(allowList.Schemas) == 0 {
		return catalog.Metadata{}, fmt.Errorf("%w: schema allow-list is empty", catalog.ErrUnavailable)
	}

	rows, err := i.db.QueryContext(ctx, columnsQuery, schemaArray(allowList.Schemas))
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("%w: query information_schema: %v", catalog.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	meta := catalog.Metadata{LoadedAt: time.Now().UTC()}
	var (
		curSchema *catalog.Schema
		curTable  *catalog.Table
	)
	flushTable := func() {
		if curSchema != nil && curTable != nil {
			curSchema.Tables = append(curSchema.Tables, *curTable)
			curTable = nil
		}
	}
	flushSchema := func() {
		flushTable()
		if curSchema != nil {
			meta.Schemas = append(meta.Schemas, *curSchema)
			curSchema = nil
		}
	}

	for rows.Next() {
		var schemaName, tableName, columnName, dataType string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType); err != nil {
			return catalog.Metadata{}, fmt.Errorf("%w: scan column row: %v", catalog.ErrUnavailable, err)
		}
		if !allowList.AllowsTable(schemaName, tableName) {
			continue
		}
		if curSchema == nil || curSchema.Name != schemaName {
			flushSchema()
			curSchema = &catalog.Schema{
				Name:        schemaName,
				Description: allowList.Descriptions[schemaName],
			}
		}
		if curTable == nil || curTable.Name != tableName {
			flushTable()
			curTable = &catalog.Table{
				Name:        tableName,
				Description: allowList.Descriptions[schemaName+"."+tableName],
			}
		}
		curTable.Columns = append(curTable.Columns, catalog.Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return catalog.Metadata{}, fmt.Errorf("%w: iterate column rows: %v", catalog.ErrUnavailable, err)
	}
	flushSchema()

	if meta.Empty() {
		return catalog.Metadata{}, fmt.Errorf("%w: no allow-listed tables found", catalog.ErrUnavailable)
	}
	return meta, nil
}

// schemaArray renders a Postgres text array literal for = ANY($1). Driver
// differences around []string binding make the literal form the portable
// choice here.
func schemaArray(schemas []string) string {
	out := "{"
	for i, s := range schemas {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out + "}"
}
