// Package prompt assembles generation requests for the SQL model. Building
// is a pure function of the schema snapshot, the conversation history and
// the new question, so pipeline non-determinism stays confined to the
// generation gateway.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datachat/datachat/internal/catalog"
	"github.com/datachat/datachat/internal/conversation"
)

const systemInstruction = "You convert business questions into a single read-only SQL query " +
	"for a PostgreSQL analytical database. " +
	"Only SELECT statements against the listed tables are permitted: " +
	"no INSERT, UPDATE, DELETE, DROP, CREATE, ALTER, TRUNCATE, GRANT or procedure calls, " +
	"and exactly one statement. " +
	"Always qualify tables with their schema name and include a LIMIT clause. " +
	"Return ONLY the SQL query, no markdown and no explanation."

type Prompt struct {
	System string
	User   string
}

type Builder struct {
	// ContextTurns is how many recent question/SQL pairs to include.
	ContextTurns int
	// MaxSchemaTables bounds the condensed schema section.
	MaxSchemaTables int
}

// Build assembles the generation request for a new question.
func (b Builder) Build(history []conversation.Turn, meta catalog.Metadata, question string) Prompt {
	var user strings.Builder

	user.WriteString("DATABASE SCHEMA:\n")
	for _, entry := range relevantTables(meta, question, b.maxTables()) {
		user.WriteString(entry)
	}

	turns := recentTurns(history, b.contextTurns())
	if len(turns) > 0 {
		user.WriteString("\nCONVERSATION SO FAR:\n")
		for _, turn := range turns {
			fmt.Fprintf(&user, "Question: %s\n", turn.Question)
			if turn.SQL != "" {
				fmt.Fprintf(&user, "SQL: %s\n", turn.SQL)
			}
		}
	}

	fmt.Fprintf(&user, "\nNew question:\n%s\n", strings.TrimSpace(question))
	return Prompt{System: systemInstruction, User: user.String()}
}

// BuildCorrection extends a prompt with the rejection reason for the single
// self-correction attempt.
func (b Builder) BuildCorrection(prev Prompt, rejectedSQL, reason string) Prompt {
	var user strings.Builder
	user.WriteString(prev.User)
	user.WriteString("\nYour previous answer was rejected and must be corrected.\n")
	fmt.Fprintf(&user, "Rejected SQL: %s\n", strings.TrimSpace(rejectedSQL))
	fmt.Fprintf(&user, "Rejection reason: %s\n", reason)
	user.WriteString("Produce a corrected query that follows every rule above.\n")
	return Prompt{System: prev.System, User: user.String()}
}

func (b Builder) contextTurns() int {
	if b.ContextTurns > 0 {
		return b.ContextTurns
	}
	return 5
}

func (b Builder) maxTables() int {
	if b.MaxSchemaTables > 0 {
		return b.MaxSchemaTables
	}
	return 8
}

func recentTurns(history []conversation.Turn, k int) []conversation.Turn {
	if len(history) > k {
		return history[len(history)-k:]
	}
	return history
}

// relevantTables renders schema entries for tables that lexically overlap
// the question, falling back to every table (up to the cap) when nothing
// matches, so the model always sees a schema.
func relevantTables(meta catalog.Metadata, question string, maxTables int) []string {
	words := questionWords(question)

	type scored struct {
		entry string
		score int
	}
	var all []scored
	for _, schema := range meta.Schemas {
		for _, table := range schema.Tables {
			all = append(all, scored{
				entry: renderTable(schema, table),
				score: overlapScore(schema, table, words),
			})
		}
	}

	scoredMatches := make([]scored, 0, len(all))
	for _, s := range all {
		if s.score > 0 {
			scoredMatches = append(scoredMatches, s)
		}
	}
	if len(scoredMatches) == 0 {
		scoredMatches = all
	}
	// best matches first when the cap cuts the list; the sort is stable so
	// equal scores keep catalog order
	sort.SliceStable(scoredMatches, func(i, j int) bool {
		return scoredMatches[i].score > scoredMatches[j].score
	})
	if len(scoredMatches) > maxTables {
		scoredMatches = scoredMatches[:maxTables]
	}
	matched := make([]string, 0, len(scoredMatches))
	for _, s := range scoredMatches {
		matched = append(matched, s.entry)
	}
	return matched
}

func renderTable(schema catalog.Schema, table catalog.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s.%s", schema.Name, table.Name)
	if table.Description != "" {
		fmt.Fprintf(&sb, ": %s", table.Description)
	}
	sb.WriteString("\n  columns: ")
	for i, col := range table.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", col.Name, col.Type)
	}
	sb.WriteString("\n")
	return sb.String()
}

func overlapScore(schema catalog.Schema, table catalog.Table, words map[string]bool) int {
	score := 0
	for _, candidate := range nameWords(table.Name) {
		if words[candidate] {
			score += 3
		}
	}
	for _, candidate := range strings.Fields(strings.ToLower(table.Description)) {
		if words[normalizeWord(candidate)] {
			score += 2
		}
	}
	for _, col := range table.Columns {
		for _, candidate := range nameWords(col.Name) {
			if words[candidate] {
				score++
			}
		}
	}
	for _, candidate := range nameWords(schema.Name) {
		if words[candidate] {
			score++
		}
	}
	return score
}

func questionWords(question string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = normalizeWord(w)
		if len(w) < 3 {
			continue
		}
		words[w] = true
		// naive singularization so "leads" matches a "lead" column
		if strings.HasSuffix(w, "s") {
			words[strings.TrimSuffix(w, "s")] = true
		} else {
			words[w+"s"] = true
		}
	}
	return words
}

func nameWords(name string) []string {
	parts := strings.Split(strings.ToLower(name), "_")
	out := make([]string, 0, len(parts)+1)
	out = append(out, strings.ToLower(name))
	out = append(out, parts...)
	return out
}

func normalizeWord(w string) string {
	return strings.Trim(w, ".,;:?!'\"()")
}
