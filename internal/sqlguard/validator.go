// Package sqlguard screens model-generated SQL before it reaches the
// warehouse. Only single read-only SELECT statements over catalog-approved
// tables pass, and every accepted statement comes back normalized with an
// enforced row limit.
package sqlguard

import (
	"fmt"
	"strconv"
	"strings"
)

// Reason classifies why a statement was rejected.
type Reason string

const (
	ReasonEmptyStatement     Reason = "empty_statement"
	ReasonNotAQuery          Reason = "not_a_query"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonWriteOperation     Reason = "write_operation_forbidden"
	ReasonUnknownObject      Reason = "unknown_object"
	ReasonForbiddenConstruct Reason = "forbidden_construct"
)

// Verdict is the outcome of validating one statement. When OK is true, SQL
// holds the normalized statement with the row limit applied, Tables lists
// the physical tables it reads and Limit is the effective row bound (zero
// when the limit is a bind parameter). Detail is meant for logs, not end
// users.
type Verdict struct {
	OK     bool
	SQL    string
	Tables []string
	Limit  int
	Reason Reason
	Detail string
}

// Resolver answers whether tables and columns exist in the approved schema
// snapshot. Names may be bare or schema-qualified; an empty table name checks
// the column against every approved table.
type Resolver interface {
	ContainsTable(name string) bool
	Contains(table, column string) bool
}

// Config bounds the result size of accepted statements.
type Config struct {
	DefaultRowLimit int
	MaxRowLimit     int
}

// Validator screens statements against a schema resolver. It is stateless
// per call and safe for concurrent use.
type Validator struct {
	resolver     Resolver
	defaultLimit int
	maxLimit     int
}

func New(resolver Resolver, cfg Config) *Validator {
	v := &Validator{resolver: resolver, defaultLimit: cfg.DefaultRowLimit, maxLimit: cfg.MaxRowLimit}
	if v.defaultLimit <= 0 {
		v.defaultLimit = 1000
	}
	if v.maxLimit < v.defaultLimit {
		v.maxLimit = v.defaultLimit
	}
	return v
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validate screens one statement. The checks run cheapest first: lexing and
// statement shape, then write keywords and forbidden functions, then table
// and column resolution against the catalog.
func (v *Validator) Validate(input string) Verdict {
	tokens, err := lex(input)
	if err != nil {
		return reject(ReasonForbiddenConstruct, "%v", err)
	}
	if len(tokens) > 0 && tokens[len(tokens)-1].isSymbol(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return reject(ReasonEmptyStatement, "statement is empty")
	}
	for _, tok := range tokens {
		if tok.isSymbol(";") {
			return reject(ReasonMultipleStatements, "statement contains multiple statements")
		}
	}

	if u := tokens[0].upper(); u != "SELECT" && u != "WITH" {
		if writeKeywords[u] {
			return reject(ReasonWriteOperation, "statement is a %s", u)
		}
		return reject(ReasonNotAQuery, "statement starts with %q", tokens[0].text)
	}
	for _, tok := range tokens {
		if u := tok.upper(); writeKeywords[u] {
			return reject(ReasonWriteOperation, "keyword %s is not allowed in a read query", u)
		}
	}
	for i, tok := range tokens {
		if tok.kind != tokenIdent && tok.kind != tokenQuotedIdent {
			continue
		}
		if i+1 >= len(tokens) || !tokens[i+1].isSymbol("(") {
			continue
		}
		// Quoted names resolve to the same function, so "pg_sleep"(10) is
		// screened like pg_sleep(10).
		name := strings.ToLower(tok.name())
		if forbiddenFunctions[name] || strings.HasPrefix(name, "dblink") {
			return reject(ReasonForbiddenConstruct, "function %s is not allowed", name)
		}
	}

	a := &analyzer{
		resolver: v.resolver,
		tokens:   tokens,
		ctes:     collectCTEs(tokens),
		derived:  map[string]bool{},
		aliases:  map[string]string{},
		tableSet: map[string]bool{},
		consumed: map[int]bool{},
	}
	if verdict := a.collectTables(); verdict != nil {
		return *verdict
	}
	if verdict := a.checkColumns(); verdict != nil {
		return *verdict
	}

	tokens, limit := v.enforceLimit(tokens)
	return Verdict{OK: true, SQL: render(tokens), Tables: a.tables, Limit: limit}
}

// collectCTEs gathers the names a WITH clause defines so later references to
// them are not mistaken for physical tables. A region is tracked per paren
// depth and closed by the SELECT at the same depth, so an AS group appearing
// after the main SELECT, such as a WINDOW definition, cannot register a name.
func collectCTEs(tokens []token) map[string]bool {
	ctes := map[string]bool{}
	depth := 0
	var regions []int
	active := func() bool {
		return len(regions) > 0 && regions[len(regions)-1] == depth
	}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
			for len(regions) > 0 && regions[len(regions)-1] > depth {
				regions = regions[:len(regions)-1]
			}
		case tok.upper() == "WITH":
			regions = append(regions, depth)
		case tok.upper() == "SELECT":
			if active() {
				regions = regions[:len(regions)-1]
			}
		case tok.kind == tokenIdent || tok.kind == tokenQuotedIdent:
			if !active() || tok.upper() == "RECURSIVE" {
				continue
			}
			// name AS (...) or name(col, ...) AS (...)
			next := i + 1
			if next < len(tokens) && tokens[next].isSymbol("(") {
				next = skipParens(tokens, next)
			}
			if next < len(tokens) && tokens[next].isKeyword("AS") {
				ctes[tok.name()] = true
			}
		}
	}
	return ctes
}

type analyzer struct {
	resolver Resolver
	tokens   []token
	ctes     map[string]bool
	derived  map[string]bool   // subquery and CTE aliases
	aliases  map[string]string // alias -> physical table
	tables   []string
	tableSet map[string]bool
	consumed map[int]bool // token indexes that belong to table refs and aliases
}

// collectTables resolves every FROM and JOIN source against the resolver.
// Subquery bodies are not skipped; their inner FROM clauses are reached by
// the same linear scan.
func (a *analyzer) collectTables() *Verdict {
	specialFrom := markSpecialFromTokens(a.tokens)
	for i := 0; i < len(a.tokens); i++ {
		tok := a.tokens[i]
		if tok.kind != tokenIdent {
			continue
		}
		u := strings.ToUpper(tok.text)
		if u != "FROM" && u != "JOIN" || specialFrom[i] {
			continue
		}
		if verdict := a.parseTableList(i+1, u == "FROM"); verdict != nil {
			return verdict
		}
	}
	return nil
}

// markSpecialFromTokens flags the FROM keywords that belong directly to the
// argument list of forms like extract(field FROM expr). FROM clauses of
// subqueries nested deeper inside those argument lists stay unflagged.
func markSpecialFromTokens(tokens []token) map[int]bool {
	marked := map[int]bool{}
	for i, tok := range tokens {
		if tok.kind != tokenIdent || !fromBearingFunctions[strings.ToLower(tok.text)] {
			continue
		}
		if i+1 >= len(tokens) || !tokens[i+1].isSymbol("(") {
			continue
		}
		end := skipParens(tokens, i+1)
		depth := 0
		for j := i + 1; j < end; j++ {
			switch {
			case tokens[j].isSymbol("("):
				depth++
			case tokens[j].isSymbol(")"):
				depth--
			case depth == 1 && tokens[j].isKeyword("FROM"):
				marked[j] = true
			}
		}
	}
	return marked
}

func (a *analyzer) parseTableList(i int, allowComma bool) *Verdict {
	for {
		next, verdict := a.parseTableRef(i)
		if verdict != nil {
			return verdict
		}
		if allowComma && next < len(a.tokens) && a.tokens[next].isSymbol(",") {
			i = next + 1
			continue
		}
		return nil
	}
}

func (a *analyzer) parseTableRef(i int) (int, *Verdict) {
	toks := a.tokens
	for i < len(toks) && (toks[i].isKeyword("LATERAL") || toks[i].isKeyword("ONLY")) {
		i++
	}
	if i >= len(toks) {
		v := reject(ReasonForbiddenConstruct, "malformed FROM clause")
		return i, &v
	}
	if toks[i].isSymbol("(") {
		// derived table or parenthesized join; the body is validated by the
		// outer scan, only the alias is consumed here
		return a.parseAlias(skipParens(toks, i), "")
	}
	if toks[i].kind != tokenIdent && toks[i].kind != tokenQuotedIdent {
		v := reject(ReasonForbiddenConstruct, "malformed table reference near %q", toks[i].text)
		return i, &v
	}

	parts := []string{toks[i].name()}
	a.consumed[i] = true
	i++
	for i+1 < len(toks) && toks[i].isSymbol(".") &&
		(toks[i+1].kind == tokenIdent || toks[i+1].kind == tokenQuotedIdent) {
		a.consumed[i], a.consumed[i+1] = true, true
		parts = append(parts, toks[i+1].name())
		i += 2
	}
	if i < len(toks) && toks[i].isSymbol("(") {
		// set-returning function source; forbidden names were screened before
		return a.parseAlias(skipParens(toks, i), "")
	}

	name := strings.Join(parts, ".")
	if len(parts) == 1 && a.ctes[name] {
		return a.parseAlias(i, "")
	}
	if !a.resolver.ContainsTable(name) {
		v := reject(ReasonUnknownObject, "table %q is not queryable", name)
		return i, &v
	}
	if !a.tableSet[name] {
		a.tableSet[name] = true
		a.tables = append(a.tables, name)
	}
	return a.parseAlias(i, name)
}

// parseAlias consumes an optional correlation name after a table source.
// table is empty for derived tables, CTE references and function sources.
func (a *analyzer) parseAlias(i int, table string) (int, *Verdict) {
	toks := a.tokens
	explicit := false
	if i < len(toks) && toks[i].isKeyword("AS") {
		a.consumed[i] = true
		i++
		explicit = true
	}
	if i >= len(toks) || (toks[i].kind != tokenIdent && toks[i].kind != tokenQuotedIdent) {
		return i, nil
	}
	if !explicit && (fromClauseTerminators[toks[i].upper()] || sqlKeywords[toks[i].upper()]) {
		return i, nil
	}
	alias := toks[i].name()
	a.consumed[i] = true
	i++
	if table != "" {
		a.aliases[alias] = table
	} else {
		a.derived[alias] = true
	}
	// derived column list: alias(a, b)
	if i < len(toks) && toks[i].isSymbol("(") && table == "" {
		end := skipParens(toks, i)
		for j := i; j < end; j++ {
			a.consumed[j] = true
		}
		i = end
	}
	return i, nil
}

// checkColumns resolves the remaining identifiers against the catalog. Bare
// names must exist as a column somewhere in the approved snapshot; qualified
// names must resolve through a known alias, CTE or table.
func (a *analyzer) checkColumns() *Verdict {
	toks := a.tokens
	aliasNames := map[string]bool{}
	for i := 1; i < len(toks); i++ {
		if toks[i-1].isKeyword("AS") && (toks[i].kind == tokenIdent || toks[i].kind == tokenQuotedIdent) {
			aliasNames[toks[i].name()] = true
		}
	}

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.kind != tokenIdent && tok.kind != tokenQuotedIdent {
			continue
		}
		if a.consumed[i] {
			continue
		}
		if i > 0 && (toks[i-1].isSymbol(".") || toks[i-1].isSymbol("::")) {
			continue
		}
		if tok.kind == tokenIdent && sqlKeywords[tok.upper()] {
			continue
		}
		if i > 0 && (toks[i-1].isKeyword("AS") || toks[i-1].isKeyword("OVER") || toks[i-1].isKeyword("WINDOW")) {
			continue
		}
		if i+1 < len(toks) && toks[i+1].isSymbol("(") {
			continue // function call
		}

		if i+1 < len(toks) && toks[i+1].isSymbol(".") {
			next, verdict := a.checkQualified(i)
			if verdict != nil {
				return verdict
			}
			i = next
			continue
		}

		name := tok.name()
		if a.ctes[name] || a.derived[name] || a.aliases[name] != "" || a.tableSet[name] || aliasNames[name] {
			continue
		}
		if !a.resolver.Contains("", name) {
			v := reject(ReasonUnknownObject, "column %q not found in approved tables", name)
			return &v
		}
	}
	return nil
}

// checkQualified validates a dotted reference starting at i and returns the
// index of its last token.
func (a *analyzer) checkQualified(i int) (int, *Verdict) {
	toks := a.tokens
	parts := []string{toks[i].name()}
	star := false
	j := i + 1
	for j < len(toks) && toks[j].isSymbol(".") {
		if j+1 >= len(toks) {
			break
		}
		next := toks[j+1]
		if next.isSymbol("*") {
			star = true
			j += 2
			break
		}
		if next.kind != tokenIdent && next.kind != tokenQuotedIdent {
			break
		}
		parts = append(parts, next.name())
		j += 2
	}
	last := j - 1

	qualifier := parts[0]
	if a.ctes[qualifier] || a.derived[qualifier] {
		return last, nil
	}
	table := a.aliases[qualifier]
	if table == "" && a.tableSet[qualifier] {
		table = qualifier
	}

	switch {
	case table != "" && (star || len(parts) == 1):
		return last, nil
	case table != "" && len(parts) == 2:
		if a.resolver.Contains(table, parts[1]) {
			return last, nil
		}
		v := reject(ReasonUnknownObject, "column %q not found in table %q", parts[1], table)
		return last, &v
	case len(parts) >= 2:
		qualified := parts[0] + "." + parts[1]
		if a.tableSet[qualified] {
			if star || len(parts) == 2 {
				return last, nil
			}
			if a.resolver.Contains(qualified, parts[2]) {
				return last, nil
			}
			v := reject(ReasonUnknownObject, "column %q not found in table %q", parts[2], qualified)
			return last, &v
		}
	}
	v := reject(ReasonUnknownObject, "unknown reference %q", strings.Join(parts, "."))
	return last, &v
}

// enforceLimit caps an explicit top-level LIMIT or FETCH at the configured
// maximum and appends the default limit when the statement has neither. A
// parameterized LIMIT cannot be bounded here and is reported as limit 0;
// the executor still truncates at its row ceiling.
func (v *Validator) enforceLimit(tokens []token) ([]token, int) {
	depth := 0
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
		}
		if depth != 0 || tok.kind != tokenIdent {
			continue
		}
		switch tok.upper() {
		case "LIMIT":
			if i+1 < len(tokens) {
				next := tokens[i+1]
				if next.kind == tokenNumber {
					if n, err := strconv.Atoi(next.text); err == nil {
						if n > v.maxLimit {
							tokens[i+1] = token{tokenNumber, strconv.Itoa(v.maxLimit)}
							return tokens, v.maxLimit
						}
						return tokens, n
					}
				} else if next.isKeyword("ALL") {
					tokens[i+1] = token{tokenNumber, strconv.Itoa(v.maxLimit)}
					return tokens, v.maxLimit
				}
			}
			return tokens, 0
		case "FETCH":
			if i+2 < len(tokens) {
				switch count := tokens[i+2]; count.kind {
				case tokenNumber:
					if n, err := strconv.Atoi(count.text); err == nil {
						if n > v.maxLimit {
							tokens[i+2] = token{tokenNumber, strconv.Itoa(v.maxLimit)}
							return tokens, v.maxLimit
						}
						return tokens, n
					}
				case tokenParam:
					return tokens, 0
				}
			}
			// FETCH FIRST ROW ONLY, count omitted
			return tokens, 1
		}
	}
	tokens = append(tokens,
		token{tokenIdent, "LIMIT"},
		token{tokenNumber, strconv.Itoa(v.defaultLimit)})
	return tokens, v.defaultLimit
}

// render produces the canonical single-line form of a statement: keywords
// upper-cased, unquoted identifiers folded to lower case, uniform spacing.
// Two statements that differ only in formatting render identically, so cache
// fingerprints built on this form are shared.
func render(tokens []token) string {
	var b strings.Builder
	for i, tok := range tokens {
		text := tok.text
		if tok.kind == tokenIdent {
			if sqlKeywords[strings.ToUpper(text)] {
				text = strings.ToUpper(text)
			} else {
				text = strings.ToLower(text)
			}
		}
		if i > 0 && needsSpace(tokens[i-1], tokens[i]) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	switch {
	case cur.isSymbol(",") || cur.isSymbol(")") || cur.isSymbol(".") || cur.isSymbol("::"):
		return false
	case prev.isSymbol("(") || prev.isSymbol(".") || prev.isSymbol("::"):
		return false
	case cur.isSymbol("(") && (prev.kind == tokenIdent || prev.kind == tokenQuotedIdent) &&
		(!sqlKeywords[prev.upper()] || functionLikeKeywords[prev.upper()]):
		return false // function call
	}
	return true
}
