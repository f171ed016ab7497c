// Package llm wraps the external text-completion capability behind a
// bounded, retried gateway. The returned text is untrusted input: the
// gateway extracts a SQL statement from surrounding prose but never judges
// its safety or correctness.
package llm

import (
	"context"
	"errors"

	"github.com/datachat/datachat/internal/prompt"
)

var (
	// ErrGenerationFailed reports a non-transient provider failure
	// (authentication, malformed response, client error).
	ErrGenerationFailed = errors.New("llm: generation failed")
	// ErrGenerationTimeout reports that generation attempts ran out of time.
	ErrGenerationTimeout = errors.New("llm: generation timed out")
)

// Candidate is an unvalidated SQL proposal for one question.
type Candidate struct {
	SQL     string
	Attempt int
	Model   string
}

type Gateway interface {
	Generate(ctx context.Context, p prompt.Prompt) (Candidate, error)
}
