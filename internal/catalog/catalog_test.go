package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleMetadata() Metadata {
	return Metadata{
		LoadedAt: time.Now(),
		Schemas: []Schema{
			{
				Name:        "bi_reports",
				Description: "Business intelligence report tables",
				Tables: []Table{
					{
						Name:        "users",
						Description: "User leads and interactions",
						Columns: []Column{
							{Name: "id", Type: "bigint"},
							{Name: "marketing_channel", Type: "text"},
							{Name: "created_at", Type: "timestamp"},
						},
					},
					{
						Name: "leads",
						Columns: []Column{
							{Name: "id", Type: "bigint"},
							{Name: "project_name", Type: "text"},
						},
					},
				},
			},
		},
	}
}

func TestMetadataContainsTable(t *testing.T) {
	meta := sampleMetadata()

	if !meta.ContainsTable("users") {
		t.Error("bare table name should resolve")
	}
	if !meta.ContainsTable("bi_reports.users") {
		t.Error("qualified table name should resolve")
	}
	if !meta.ContainsTable("BI_REPORTS.USERS") {
		t.Error("resolution should be case-insensitive")
	}
	if meta.ContainsTable("bi_reports.secrets") {
		t.Error("unknown table should not resolve")
	}
	if meta.ContainsTable("other_schema.users") {
		t.Error("table in unlisted schema should not resolve")
	}
}

func TestMetadataContainsColumn(t *testing.T) {
	meta := sampleMetadata()

	if !meta.Contains("users", "marketing_channel") {
		t.Error("column should resolve against its table")
	}
	if !meta.Contains("bi_reports.leads", "project_name") {
		t.Error("column should resolve against qualified table")
	}
	if meta.Contains("users", "project_name") {
		t.Error("column from another table should not resolve")
	}
	if !meta.Contains("", "project_name") {
		t.Error("empty table should check all tables")
	}
	if meta.Contains("", "password_hash") {
		t.Error("unknown column should not resolve anywhere")
	}
}

func TestAllowListAllowsTable(t *testing.T) {
	list := AllowList{
		Schemas: []string{"bi_reports"},
		Tables:  []string{"bi_reports.users"},
	}
	if !list.AllowsTable("bi_reports", "users") {
		t.Error("listed table should be allowed")
	}
	if list.AllowsTable("bi_reports", "leads") {
		t.Error("unlisted table should be denied when table list is set")
	}
	if list.AllowsTable("pg_catalog", "pg_tables") {
		t.Error("unlisted schema should be denied")
	}

	open := AllowList{Schemas: []string{"bi_reports"}}
	if !open.AllowsTable("bi_reports", "leads") {
		t.Error("empty table list should allow all tables in listed schemas")
	}
}

type stubLoader struct {
	meta Metadata
	err  error
}

func (s *stubLoader) Introspect(context.Context, AllowList) (Metadata, error) {
	return s.meta, s.err
}

func TestCatalogLoadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	loader := &stubLoader{meta: sampleMetadata()}
	cat := New(loader, AllowList{Schemas: []string{"bi_reports"}})

	if cat.Ready() {
		t.Fatal("catalog should not be ready before load")
	}
	if err := cat.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cat.Ready() {
		t.Fatal("catalog should be ready after load")
	}

	loader.err = errors.New("connection refused")
	if err := cat.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if !cat.ContainsTable("users") {
		t.Fatal("failed reload must keep the previous snapshot")
	}
}
