// Package querycache memoizes warehouse results keyed by the normalized
// statement, so repeated questions that compile to the same SQL skip
// execution entirely.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/datachat/datachat/internal/executor"
)

// ErrUnavailable signals the cache backend cannot be reached. Callers treat
// it as a miss and fall through to execution.
var ErrUnavailable = errors.New("querycache: backend unavailable")

// Key fingerprints a normalized statement. Statements that differ only in
// formatting normalize identically and therefore share a key.
func Key(normalizedSQL string) string {
	sum := sha256.Sum256([]byte(normalizedSQL))
	return "query:" + hex.EncodeToString(sum[:])
}

type Cache interface {
	Get(ctx context.Context, key string) (executor.Result, bool, error)
	Put(ctx context.Context, key string, result executor.Result) error
}
