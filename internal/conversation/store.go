// Package conversation keeps per-session turn history so follow-up
// questions can be answered with context. Sessions expire after an
// inactivity TTL and keep at most a fixed number of recent turns.
package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrSessionExpired reports an unknown or expired session id. The caller is
// expected to start a fresh session transparently.
var ErrSessionExpired = errors.New("conversation: session expired")

type TurnStatus string

const (
	TurnOK     TurnStatus = "ok"
	TurnFailed TurnStatus = "failed"
)

// Turn is one question/answer exchange.
type Turn struct {
	Question      string     `json:"question"`
	SQL           string     `json:"sql,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
	Status        TurnStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Session is the stored state of one conversation.
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store is the keyed session state backend. Append and Touch refresh the
// inactivity TTL; both fail with ErrSessionExpired for unknown ids.
//
// Append is not safe for concurrent calls on the same session id; the
// pipeline serializes turns per conversation before calling it.
type Store interface {
	Create(ctx context.Context) (string, error)
	Append(ctx context.Context, id string, turn Turn) error
	History(ctx context.Context, id string) ([]Turn, error)
	Touch(ctx context.Context, id string) error
}

// trimTurns drops the oldest turns beyond the per-session cap.
func trimTurns(turns []Turn, maxTurns int) []Turn {
	if maxTurns > 0 && len(turns) > maxTurns {
		return turns[len(turns)-maxTurns:]
	}
	return turns
}
