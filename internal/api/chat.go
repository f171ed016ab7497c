package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/datachat/datachat/internal/executor"
	"github.com/datachat/datachat/internal/llm"
	"github.com/datachat/datachat/internal/pipeline"
)

type chatQueryRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatQueryResponse struct {
	Success        bool         `json:"success"`
	ConversationID string       `json:"conversation_id"`
	Message        string       `json:"message"`
	SQLQuery       *string      `json:"sql_query"`
	Results        *resultTable `json:"results"`
	Cached         bool         `json:"cached"`
}

// resultTable is the wire shape of a result set: a column header list for
// ordering and rows as column-keyed objects.
type resultTable struct {
	Columns   []string         `json:"columns"`
	Data      []map[string]any `json:"data"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

func toResultTable(result executor.Result) *resultTable {
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return &resultTable{
		Columns:   result.Columns,
		Data:      rows,
		RowCount:  result.RowCount,
		Truncated: result.Truncated,
	}
}

func handleChatQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req chatQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a message field", false, nil)
		return
	}

	resp, err := deps.Chat.Ask(r.Context(), pipeline.AskRequest{
		ConversationID: req.ConversationID,
		Question:       req.Message,
	})
	if err != nil {
		writeChatError(deps, w, r, resp, err)
		return
	}

	writeJSON(w, http.StatusOK, chatQueryResponse{
		Success:        true,
		ConversationID: resp.ConversationID,
		Message:        resp.Message,
		SQLQuery:       &resp.SQL,
		Results:        toResultTable(*resp.Result),
		Cached:         resp.FromCache,
	})
}

// writeChatError maps pipeline failures onto the wire. A rejected generation
// is a normal chat answer with success=false, everything else is an error
// envelope.
func writeChatError(deps Dependencies, w http.ResponseWriter, r *http.Request, resp pipeline.AskResponse, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_MESSAGE", "message must not be empty", false, nil)
	case errors.Is(err, pipeline.ErrUnsafeQuery):
		writeJSON(w, http.StatusOK, chatQueryResponse{
			Success:        false,
			ConversationID: resp.ConversationID,
			Message:        "I could not produce a safe query for that question. Try rephrasing it or asking about the available reports.",
		})
	case errors.Is(err, pipeline.ErrSchemaNotReady):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_NOT_READY", "schema metadata is still loading, retry shortly", true, nil)
	case errors.Is(err, llm.ErrGenerationTimeout):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "the SQL generator did not answer in time", true, nil)
	case errors.Is(err, llm.ErrGenerationFailed):
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "the SQL generator is unavailable", true, nil)
	case errors.Is(err, executor.ErrBusy):
		writeError(r.Context(), w, http.StatusTooManyRequests, "WAREHOUSE_BUSY", "too many queries are running, retry shortly", true, nil)
	case errors.Is(err, executor.ErrTimeout):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "the query took too long and was cancelled, try a narrower question", true, nil)
	default:
		if deps.Logger != nil {
			deps.Logger.Error("chat query failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
	}
}

type schemaColumnInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type schemaTableInfo struct {
	Description string                      `json:"description,omitempty"`
	Columns     map[string]schemaColumnInfo `json:"columns"`
}

type schemaInfo struct {
	Description string                     `json:"description,omitempty"`
	Tables      map[string]schemaTableInfo `json:"tables"`
}

type schemaResponse struct {
	Success bool                  `json:"success"`
	Schemas map[string]schemaInfo `json:"schemas"`
}

func handleChatSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	meta := deps.Schema.Describe()
	if meta.Empty() {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_NOT_READY", "schema metadata is still loading, retry shortly", true, nil)
		return
	}

	resp := schemaResponse{Success: true, Schemas: make(map[string]schemaInfo, len(meta.Schemas))}
	for _, schema := range meta.Schemas {
		tables := make(map[string]schemaTableInfo, len(schema.Tables))
		for _, table := range schema.Tables {
			columns := make(map[string]schemaColumnInfo, len(table.Columns))
			for _, column := range table.Columns {
				columns[column.Name] = schemaColumnInfo{Type: column.Type, Description: column.Description}
			}
			tables[table.Name] = schemaTableInfo{Description: table.Description, Columns: columns}
		}
		resp.Schemas[schema.Name] = schemaInfo{Description: schema.Description, Tables: tables}
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleTableSample(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", false, nil)
			return
		}
		limit = parsed
	}

	result, sqlText, err := deps.Chat.Sample(r.Context(), r.PathValue("schema"), r.PathValue("table"), limit)
	switch {
	case errors.Is(err, pipeline.ErrUnsafeQuery):
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_TABLE", "table is not available for sampling", false, nil)
		return
	case errors.Is(err, executor.ErrBusy):
		writeError(r.Context(), w, http.StatusTooManyRequests, "WAREHOUSE_BUSY", "too many queries are running, retry shortly", true, nil)
		return
	case err != nil:
		if deps.Logger != nil {
			deps.Logger.Error("table sample failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sql_query": sqlText,
		"results":   toResultTable(result),
	})
}
