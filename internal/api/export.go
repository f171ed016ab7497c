package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
)

// exportRequest carries a result table back from the client for download.
// The server never re-executes anything for an export.
type exportRequest struct {
	Columns  []string         `json:"columns"`
	Data     []map[string]any `json:"data"`
	Filename string           `json:"filename"`
}

var safeFilename = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func (req *exportRequest) validate() error {
	if len(req.Columns) == 0 {
		return fmt.Errorf("columns must not be empty")
	}
	for i, row := range req.Data {
		for key := range row {
			if !slices.Contains(req.Columns, key) {
				return fmt.Errorf("row %d has value for unknown column %q", i, key)
			}
		}
	}
	if req.Filename == "" {
		req.Filename = "export"
	}
	if !safeFilename.MatchString(req.Filename) {
		return fmt.Errorf("filename contains unsupported characters")
	}
	return nil
}

func decodeExportRequest(w http.ResponseWriter, r *http.Request) (exportRequest, bool) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with columns and data", false, nil)
		return exportRequest{}, false
	}
	if err := req.validate(); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT", err.Error(), false, nil)
		return exportRequest{}, false
	}
	return req, true
}

func handleExportCSV(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExportRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.Filename+".csv"))

	writer := csv.NewWriter(w)
	_ = writer.Write(req.Columns)
	for _, row := range req.Data {
		record := make([]string, len(req.Columns))
		for i, col := range req.Columns {
			if value, ok := row[col]; ok && value != nil {
				record[i] = fmt.Sprint(value)
			}
		}
		_ = writer.Write(record)
	}
	writer.Flush()
	if err := writer.Error(); err != nil && deps.Logger != nil {
		deps.Logger.Error("csv export write failed", "error", err)
	}
}

func handleExportJSON(_ Dependencies, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExportRequest(w, r)
	if !ok {
		return
	}

	rows := req.Data
	if rows == nil {
		rows = []map[string]any{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.Filename+".json"))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rows)
}
