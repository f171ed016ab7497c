package prompt

import (
	"strings"
	"testing"

	"github.com/datachat/datachat/internal/catalog"
	"github.com/datachat/datachat/internal/conversation"
)

func testMetadata() catalog.Metadata {
	return catalog.Metadata{Schemas: []catalog.Schema{
		{
			Name: "bi_reports",
			Tables: []catalog.Table{
				{
					Name:        "users",
					Description: "User leads and interactions",
					Columns: []catalog.Column{
						{Name: "id", Type: "bigint"},
						{Name: "marketing_channel", Type: "text"},
					},
				},
				{
					Name:        "leads",
					Description: "Lead events by project",
					Columns: []catalog.Column{
						{Name: "project_name", Type: "text"},
						{Name: "leads_30d", Type: "integer"},
					},
				},
				{
					Name:        "warehouse_inventory",
					Description: "Stock levels",
					Columns: []catalog.Column{
						{Name: "sku", Type: "text"},
						{Name: "quantity", Type: "integer"},
					},
				},
			},
		},
	}}
}

func TestBuildSelectsRelevantTables(t *testing.T) {
	b := Builder{ContextTurns: 5, MaxSchemaTables: 8}
	p := b.Build(nil, testMetadata(), "Show me user leads for last month")

	if !strings.Contains(p.User, "bi_reports.users") {
		t.Error("users table should be in the schema section")
	}
	if !strings.Contains(p.User, "bi_reports.leads") {
		t.Error("leads table should be in the schema section")
	}
	if strings.Contains(p.User, "warehouse_inventory") {
		t.Error("unrelated table should be excluded by lexical overlap")
	}
	if !strings.Contains(p.User, "Show me user leads for last month") {
		t.Error("question missing from prompt")
	}
	if !strings.Contains(p.System, "Only SELECT statements") {
		t.Error("safety instruction missing from system prompt")
	}
}

func TestBuildKeepsBestMatchesUnderTableCap(t *testing.T) {
	// "leads" scores highest for the leads table; with a cap of 1 the
	// weaker users match must be the one dropped, not the catalog tail.
	b := Builder{MaxSchemaTables: 1}
	p := b.Build(nil, testMetadata(), "how many leads per project?")

	if !strings.Contains(p.User, "bi_reports.leads") {
		t.Error("best-matching table should survive the cap")
	}
	if strings.Contains(p.User, "bi_reports.users") {
		t.Error("weaker match should be dropped when the cap is reached")
	}
}

func TestBuildFallsBackToAllTables(t *testing.T) {
	b := Builder{}
	p := b.Build(nil, testMetadata(), "zzz qqq xxx")

	for _, table := range []string{"users", "leads", "warehouse_inventory"} {
		if !strings.Contains(p.User, table) {
			t.Errorf("fallback schema should include %s", table)
		}
	}
}

func TestBuildIncludesRecentHistoryOnly(t *testing.T) {
	history := []conversation.Turn{
		{Question: "oldest question", SQL: "SELECT 0"},
		{Question: "previous question", SQL: "SELECT 1"},
		{Question: "latest question", SQL: "SELECT 2"},
	}
	b := Builder{ContextTurns: 2}
	p := b.Build(history, testMetadata(), "and for leads last week?")

	if strings.Contains(p.User, "oldest question") {
		t.Error("history beyond the context window should be dropped")
	}
	if !strings.Contains(p.User, "previous question") || !strings.Contains(p.User, "SELECT 1") {
		t.Error("recent history pair missing")
	}
	if !strings.Contains(p.User, "latest question") {
		t.Error("most recent turn missing")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := Builder{}
	meta := testMetadata()
	history := []conversation.Turn{{Question: "q", SQL: "SELECT 1"}}

	first := b.Build(history, meta, "top leads by channel")
	second := b.Build(history, meta, "top leads by channel")
	if first != second {
		t.Fatal("identical inputs must produce identical prompts")
	}
}

func TestBuildCorrectionAppendsReason(t *testing.T) {
	b := Builder{}
	base := b.Build(nil, testMetadata(), "drop everything")
	corrected := b.BuildCorrection(base, "DROP TABLE leads;", "write operations are forbidden")

	if !strings.Contains(corrected.User, "DROP TABLE leads;") {
		t.Error("rejected SQL missing from correction prompt")
	}
	if !strings.Contains(corrected.User, "write operations are forbidden") {
		t.Error("rejection reason missing from correction prompt")
	}
	if corrected.System != base.System {
		t.Error("system instruction must be unchanged")
	}
}
