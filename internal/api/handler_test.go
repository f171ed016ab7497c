package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datachat/datachat/internal/catalog"
	"github.com/datachat/datachat/internal/config"
	"github.com/datachat/datachat/internal/executor"
	"github.com/datachat/datachat/internal/pipeline"
)

type fakeChat struct {
	askResp    pipeline.AskResponse
	askErr     error
	sampleResp executor.Result
	sampleSQL  string
	sampleErr  error
	lastAsk    pipeline.AskRequest
}

func (f *fakeChat) Ask(_ context.Context, req pipeline.AskRequest) (pipeline.AskResponse, error) {
	f.lastAsk = req
	return f.askResp, f.askErr
}

func (f *fakeChat) Sample(context.Context, string, string, int) (executor.Result, string, error) {
	return f.sampleResp, f.sampleSQL, f.sampleErr
}

type fakeSchema struct {
	meta  catalog.Metadata
	ready bool
}

func (f fakeSchema) Describe() catalog.Metadata { return f.meta }
func (f fakeSchema) Ready() bool                { return f.ready }

func loadedSchema() fakeSchema {
	return fakeSchema{
		ready: true,
		meta: catalog.Metadata{Schemas: []catalog.Schema{{
			Name:   "bi_reports",
			Tables: []catalog.Table{{Name: "users", Columns: []catalog.Column{{Name: "id", Type: "bigint"}}}},
		}}},
	}
}

func newTestHandler(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	cfg := config.Config{Service: config.ServiceConfig{Name: "datachat-api"}}
	return NewHandler(cfg, deps)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatQueryHappyPath(t *testing.T) {
	sqlText := "SELECT name FROM bi_reports.users LIMIT 1000"
	chat := &fakeChat{askResp: pipeline.AskResponse{
		ConversationID: "conv-1",
		Message:        "Found 1 result.",
		SQL:            sqlText,
		Result: &executor.Result{
			Columns:  []string{"name"},
			Rows:     []map[string]any{{"name": "ada"}},
			RowCount: 1,
		},
	}}
	handler := newTestHandler(Dependencies{Chat: chat, Schema: loadedSchema()})

	rec := postJSON(t, handler, "/api/v1/chat/query", map[string]any{"message": "who?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var resp chatQueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ConversationID != "conv-1" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.SQLQuery == nil || *resp.SQLQuery != sqlText {
		t.Fatalf("sql_query = %v", resp.SQLQuery)
	}
	if resp.Results == nil || len(resp.Results.Data) != 1 || resp.Results.Data[0]["name"] != "ada" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if chat.lastAsk.Question != "who?" {
		t.Fatalf("forwarded question = %q", chat.lastAsk.Question)
	}
}

func TestChatQueryRejectionIsAChatAnswer(t *testing.T) {
	chat := &fakeChat{
		askResp: pipeline.AskResponse{ConversationID: "conv-1"},
		askErr:  pipeline.ErrUnsafeQuery,
	}
	handler := newTestHandler(Dependencies{Chat: chat, Schema: loadedSchema()})

	rec := postJSON(t, handler, "/api/v1/chat/query", map[string]any{"message": "drop it all"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, rejection must stay a 200 chat answer", rec.Code)
	}

	var resp chatQueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("success should be false")
	}
	if resp.SQLQuery != nil {
		t.Fatalf("sql_query must be null on rejection, got %v", *resp.SQLQuery)
	}
	if resp.ConversationID != "conv-1" {
		t.Fatalf("conversation_id = %q", resp.ConversationID)
	}
}

func TestChatQueryErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty question", pipeline.ErrEmptyQuestion, http.StatusBadRequest, "EMPTY_MESSAGE"},
		{"schema loading", pipeline.ErrSchemaNotReady, http.StatusServiceUnavailable, "SCHEMA_NOT_READY"},
		{"executor busy", executor.ErrBusy, http.StatusTooManyRequests, "WAREHOUSE_BUSY"},
		{"query timeout", executor.ErrTimeout, http.StatusGatewayTimeout, "QUERY_TIMEOUT"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(Dependencies{Chat: &fakeChat{askErr: tc.err}, Schema: loadedSchema()})
			rec := postJSON(t, handler, "/api/v1/chat/query", map[string]any{"message": "q"})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var envelope map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope["error_code"] != tc.wantCode {
				t.Fatalf("error_code = %v, want %s", envelope["error_code"], tc.wantCode)
			}
		})
	}
}

func TestChatSchemaEndpoint(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: loadedSchema()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/schema", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp schemaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode schema response: %v", err)
	}
	if !resp.Success || len(resp.Schemas) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	users, ok := resp.Schemas["bi_reports"].Tables["users"]
	if !ok {
		t.Fatalf("schemas = %+v", resp.Schemas)
	}
	if users.Columns["id"].Type != "bigint" {
		t.Fatalf("columns = %+v", users.Columns)
	}
}

func TestChatSchemaUnavailableBeforeLoad(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: fakeSchema{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/schema", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTableSampleEndpoint(t *testing.T) {
	chat := &fakeChat{
		sampleResp: executor.Result{Columns: []string{"id"}, Rows: []map[string]any{{"id": float64(1)}}, RowCount: 1},
		sampleSQL:  "SELECT * FROM bi_reports.users LIMIT 10",
	}
	handler := newTestHandler(Dependencies{Chat: chat, Schema: loadedSchema()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/sample/bi_reports/users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "SELECT * FROM bi_reports.users LIMIT 10") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestTableSampleUnknownTable(t *testing.T) {
	chat := &fakeChat{sampleErr: pipeline.ErrUnsafeQuery}
	handler := newTestHandler(Dependencies{Chat: chat, Schema: loadedSchema()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/sample/pg_catalog/pg_shadow", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	handler := newTestHandler(Dependencies{
		Chat:           &fakeChat{},
		Schema:         loadedSchema(),
		WarehouseCheck: func(context.Context) error { return nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	notReady := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: fakeSchema{}})
	rec = httptest.NewRecorder()
	notReady.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before schema load", rec.Code)
	}
}

func TestDetailedHealthReportsEachDependency(t *testing.T) {
	handler := newTestHandler(Dependencies{
		Chat:           &fakeChat{},
		Schema:         loadedSchema(),
		WarehouseCheck: func(context.Context) error { return nil },
		CacheCheck:     func(context.Context) error { return errors.New("redis unreachable") },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/detailed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when a dependency fails", rec.Code)
	}

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "degraded" || len(report.Checks) != 3 {
		t.Fatalf("report = %+v", report)
	}
	byName := map[string]string{}
	for _, check := range report.Checks {
		byName[check.Name] = check.Status
	}
	if byName["warehouse"] != "ok" || byName["cache"] != "error" || byName["schema"] != "ok" {
		t.Fatalf("checks = %v", byName)
	}
}

func TestExportCSV(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: loadedSchema()})
	rec := postJSON(t, handler, "/api/v1/export/csv", exportRequest{
		Columns:  []string{"name", "amount"},
		Data:     []map[string]any{{"name": "ada", "amount": 10}, {"name": "grace", "amount": nil}},
		Filename: "leads",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "leads.csv") {
		t.Fatalf("content-disposition = %q", got)
	}
	want := "name,amount\nada,10\ngrace,\n"
	if rec.Body.String() != want {
		t.Fatalf("csv = %q, want %q", rec.Body.String(), want)
	}
}

func TestExportJSON(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: loadedSchema()})
	rec := postJSON(t, handler, "/api/v1/export/json", exportRequest{
		Columns: []string{"name"},
		Data:    []map[string]any{{"name": "ada"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var rows []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "ada" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestExportRejectsUnknownColumns(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: loadedSchema()})
	rec := postJSON(t, handler, "/api/v1/export/csv", exportRequest{
		Columns: []string{"a", "b"},
		Data:    []map[string]any{{"c": "stray"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExportFormats(t *testing.T) {
	handler := newTestHandler(Dependencies{Chat: &fakeChat{}, Schema: loadedSchema()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/export/formats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "csv") {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}
