package sqlguard

func makeSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// writeKeywords are rejected anywhere in a statement. INTO covers SELECT INTO
// and UPDATE covers FOR UPDATE row locking, so neither needs a special case.
var writeKeywords = makeSet(
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "COPY", "VACUUM", "MERGE", "CALL", "DO", "PREPARE",
	"EXECUTE", "DEALLOCATE", "REINDEX", "CLUSTER", "COMMENT", "SET", "RESET",
	"LOCK", "LISTEN", "UNLISTEN", "NOTIFY", "REFRESH", "DISCARD", "DECLARE",
	"MOVE", "INTO", "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "ABORT",
	"START", "CHECKPOINT", "ANALYZE", "EXPLAIN", "IMPORT",
)

// forbiddenFunctions are server-side functions that read files, sleep, or
// touch other backends. dblink is matched by prefix separately.
var forbiddenFunctions = makeSet(
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir", "pg_stat_file",
	"pg_sleep", "pg_sleep_for", "pg_sleep_until", "pg_terminate_backend",
	"pg_cancel_backend", "pg_reload_conf", "lo_import", "lo_export",
	"set_config", "query_to_xml", "database_to_xml", "table_to_xml",
)

// sqlKeywords is the skip set for column resolution and doubles as the
// upper-casing set when the normalized statement is rendered. Common type
// names are included so casts do not look like column references.
var sqlKeywords = makeSet(
	"SELECT", "FROM", "WHERE", "AND", "OR", "NOT", "NULL", "TRUE", "FALSE",
	"AS", "ON", "USING", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER",
	"CROSS", "NATURAL", "LATERAL", "GROUP", "BY", "ORDER", "HAVING", "LIMIT",
	"OFFSET", "UNION", "ALL", "INTERSECT", "EXCEPT", "DISTINCT", "CASE",
	"WHEN", "THEN", "ELSE", "END", "IN", "IS", "LIKE", "ILIKE", "SIMILAR",
	"BETWEEN", "EXISTS", "ANY", "SOME", "ASC", "DESC", "NULLS", "FIRST",
	"LAST", "WITH", "RECURSIVE", "OVER", "PARTITION", "WINDOW", "ROWS",
	"RANGE", "GROUPS", "UNBOUNDED", "PRECEDING", "FOLLOWING", "CURRENT",
	"ROW", "FETCH", "NEXT", "ONLY", "TIES", "CAST", "EXTRACT", "FILTER",
	"ESCAPE", "COLLATE", "AT", "ZONE", "INTERVAL", "VALUES", "ROLLUP",
	"CUBE", "GROUPING", "SETS", "LEADING", "TRAILING", "BOTH", "FOR",
	"ISNULL", "NOTNULL", "LOCALTIME", "LOCALTIMESTAMP", "CURRENT_DATE",
	"CURRENT_TIME", "CURRENT_TIMESTAMP", "SYMMETRIC", "ORDINALITY",
	// extract() field names
	"YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "EPOCH", "DOW",
	"DOY", "ISODOW", "ISOYEAR", "WEEK", "QUARTER", "DECADE", "CENTURY",
	"MILLENNIUM", "MICROSECONDS", "MILLISECONDS", "TIMEZONE",
	// frequently cast-to type names
	"INT", "INTEGER", "SMALLINT", "BIGINT", "NUMERIC", "DECIMAL", "REAL",
	"DOUBLE", "PRECISION", "FLOAT", "BOOLEAN", "BOOL", "TEXT", "VARCHAR",
	"CHAR", "CHARACTER", "VARYING", "DATE", "TIME", "TIMESTAMP",
	"TIMESTAMPTZ", "UUID", "JSON", "JSONB", "BYTEA", "MONEY",
)

// fromClauseTerminators end a FROM item list.
var fromClauseTerminators = makeSet(
	"WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "WINDOW",
	"UNION", "INTERSECT", "EXCEPT", "FETCH", "FOR", "JOIN", "INNER", "LEFT",
	"RIGHT", "FULL", "CROSS", "NATURAL", "ON", "USING", "RETURNING",
)

// functionLikeKeywords render with their argument parenthesis attached.
var functionLikeKeywords = makeSet(
	"CAST", "EXTRACT", "SUBSTRING", "TRIM", "POSITION", "OVERLAY",
)

// fromBearingFunctions use FROM inside their argument list, which must not be
// mistaken for a table source.
var fromBearingFunctions = makeSet(
	"extract", "substring", "trim", "position", "overlay",
)
