// Package pipeline orchestrates a chat turn end to end: history and schema
// into a prompt, generated SQL through validation, then a cache lookup or a
// bounded warehouse execution, with the turn recorded on the way out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datachat/datachat/internal/catalog"
	"github.com/datachat/datachat/internal/conversation"
	"github.com/datachat/datachat/internal/executor"
	"github.com/datachat/datachat/internal/llm"
	"github.com/datachat/datachat/internal/observability"
	"github.com/datachat/datachat/internal/prompt"
	"github.com/datachat/datachat/internal/querycache"
	"github.com/datachat/datachat/internal/sqlguard"
)

var (
	// ErrUnsafeQuery means generation produced nothing that passed
	// validation, including the one correction attempt. The detailed reason
	// is logged, never returned.
	ErrUnsafeQuery = errors.New("pipeline: generated statement failed validation")
	// ErrSchemaNotReady means no schema snapshot has been loaded yet.
	ErrSchemaNotReady = errors.New("pipeline: schema snapshot not loaded")
	// ErrEmptyQuestion rejects blank input before any model call.
	ErrEmptyQuestion = errors.New("pipeline: question is empty")
)

// Runner executes validated statements.
type Runner interface {
	Query(ctx context.Context, query string, args ...any) (executor.Result, error)
}

// SchemaSource provides the current schema snapshot.
type SchemaSource interface {
	Describe() catalog.Metadata
}

type Service struct {
	store     conversation.Store
	builder   prompt.Builder
	gateway   llm.Gateway
	validator *sqlguard.Validator
	cache     querycache.Cache
	runner    Runner
	schema    SchemaSource
	logger    *slog.Logger
	locks     *lockTable
}

type Deps struct {
	Store     conversation.Store
	Builder   prompt.Builder
	Gateway   llm.Gateway
	Validator *sqlguard.Validator
	Cache     querycache.Cache
	Runner    Runner
	Schema    SchemaSource
	Logger    *slog.Logger
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		builder:   deps.Builder,
		gateway:   deps.Gateway,
		validator: deps.Validator,
		cache:     deps.Cache,
		runner:    deps.Runner,
		schema:    deps.Schema,
		logger:    logger,
		locks:     newLockTable(),
	}
}

type AskRequest struct {
	ConversationID string
	Question       string
}

type AskResponse struct {
	ConversationID string
	Message        string
	SQL            string
	Result         *executor.Result
	FromCache      bool
}

// Ask runs one chat turn. An expired or unknown conversation id is replaced
// with a fresh session rather than reported, so the turn always lands
// somewhere the caller can keep using.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	started := time.Now()
	resp, outcome, err := s.ask(ctx, req)
	observability.ObservePipelineRequest(outcome, time.Since(started))
	return resp, err
}

func (s *Service) ask(ctx context.Context, req AskRequest) (AskResponse, string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return AskResponse{}, "empty_question", ErrEmptyQuestion
	}

	meta := s.schema.Describe()
	if meta.Empty() {
		return AskResponse{}, "schema_not_ready", ErrSchemaNotReady
	}

	convID, err := s.resolveConversation(ctx, req.ConversationID)
	if err != nil {
		return AskResponse{}, "session_error", fmt.Errorf("resolve conversation: %w", err)
	}
	lock := s.locks.acquire(convID)
	defer s.locks.release(convID, lock)

	logger := s.logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("conversation_id", convID),
	)

	history, err := s.store.History(ctx, convID)
	if errors.Is(err, conversation.ErrSessionExpired) {
		history = nil
	} else if err != nil {
		return AskResponse{}, "session_error", fmt.Errorf("load history: %w", err)
	}

	verdict, generated, err := s.generateValidated(ctx, logger, history, meta, question)
	if err != nil {
		s.recordTurn(ctx, logger, convID, conversation.Turn{
			Question: question,
			SQL:      generated,
			Status:   conversation.TurnFailed,
		})
		if errors.Is(err, ErrUnsafeQuery) {
			return AskResponse{ConversationID: convID}, "rejected", err
		}
		return AskResponse{ConversationID: convID}, "generation_failed", err
	}
	logger.Debug("statement validated",
		slog.Int("row_limit", verdict.Limit),
		slog.Int("tables", len(verdict.Tables)),
	)

	result, fromCache, outcome, err := s.resolveResult(ctx, logger, verdict.SQL)
	if err != nil {
		s.recordTurn(ctx, logger, convID, conversation.Turn{
			Question: question,
			SQL:      verdict.SQL,
			Status:   conversation.TurnFailed,
		})
		return AskResponse{ConversationID: convID, SQL: verdict.SQL}, outcome, err
	}

	s.recordTurn(ctx, logger, convID, conversation.Turn{
		Question:      question,
		SQL:           verdict.SQL,
		ResultSummary: fmt.Sprintf("%d rows", result.RowCount),
		Status:        conversation.TurnOK,
	})

	return AskResponse{
		ConversationID: convID,
		Message:        formatMessage(result),
		SQL:            verdict.SQL,
		Result:         &result,
		FromCache:      fromCache,
	}, outcome, nil
}

// resolveConversation returns a usable session id, creating a fresh session
// when none was given or the given one has expired.
func (s *Service) resolveConversation(ctx context.Context, id string) (string, error) {
	if id != "" {
		err := s.store.Touch(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, conversation.ErrSessionExpired) {
			return "", err
		}
	}
	created, err := s.store.Create(ctx)
	if err != nil {
		return "", err
	}
	observability.IncrementSessionStarted()
	return created, nil
}

// generateValidated asks the model for SQL and screens it, feeding the
// rejection reason back for one correction attempt before giving up.
func (s *Service) generateValidated(ctx context.Context, logger *slog.Logger, history []conversation.Turn, meta catalog.Metadata, question string) (sqlguard.Verdict, string, error) {
	p := s.builder.Build(history, meta, question)

	observability.IncrementGenerationAttempt()
	candidate, err := s.gateway.Generate(ctx, p)
	if err != nil {
		return sqlguard.Verdict{}, "", fmt.Errorf("generate sql: %w", err)
	}

	verdict := s.validator.Validate(candidate.SQL)
	if verdict.OK {
		return verdict, candidate.SQL, nil
	}
	observability.IncrementValidatorRejection(string(verdict.Reason))
	logger.Warn("generated statement rejected",
		slog.String("reason", string(verdict.Reason)),
		slog.String("detail", verdict.Detail),
	)

	correction := s.builder.BuildCorrection(p, candidate.SQL, verdict.Detail)
	observability.IncrementGenerationAttempt()
	candidate, err = s.gateway.Generate(ctx, correction)
	if err != nil {
		return sqlguard.Verdict{}, "", fmt.Errorf("generate corrected sql: %w", err)
	}

	verdict = s.validator.Validate(candidate.SQL)
	if verdict.OK {
		return verdict, candidate.SQL, nil
	}
	observability.IncrementValidatorRejection(string(verdict.Reason))
	logger.Warn("corrected statement rejected",
		slog.String("reason", string(verdict.Reason)),
		slog.String("detail", verdict.Detail),
	)
	return sqlguard.Verdict{}, candidate.SQL, ErrUnsafeQuery
}

// resolveResult serves the statement from cache when possible and falls back
// to execution. Cache backend failures degrade to a miss.
func (s *Service) resolveResult(ctx context.Context, logger *slog.Logger, normalizedSQL string) (executor.Result, bool, string, error) {
	key := querycache.Key(normalizedSQL)

	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("query cache get failed", slog.String("error", err.Error()))
	}
	observability.ObserveCacheLookup(hit)
	if hit {
		return cached, true, "cached", nil
	}

	started := time.Now()
	result, err := s.runner.Query(ctx, normalizedSQL)
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrBusy):
			observability.IncrementExecutorBusy()
			return executor.Result{}, false, "busy", err
		case errors.Is(err, executor.ErrTimeout):
			return executor.Result{}, false, "timeout", err
		default:
			return executor.Result{}, false, "execution_failed", err
		}
	}
	observability.ObserveExecution(time.Since(started))

	if err := s.cache.Put(ctx, key, result); err != nil {
		logger.Warn("query cache put failed", slog.String("error", err.Error()))
	}
	return result, false, "ok", nil
}

func (s *Service) recordTurn(ctx context.Context, logger *slog.Logger, convID string, turn conversation.Turn) {
	turn.CreatedAt = time.Now().UTC()
	if err := s.store.Append(ctx, convID, turn); err != nil {
		logger.Warn("append conversation turn failed", slog.String("error", err.Error()))
	}
}

// Sample fetches a handful of rows from one approved table. The statement is
// assembled locally but still goes through validation, so schema or table
// names that are not in the catalog never reach the warehouse.
func (s *Service) Sample(ctx context.Context, schema, table string, limit int) (executor.Result, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	verdict := s.validator.Validate(fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", schema, table, limit))
	if !verdict.OK {
		s.logger.Warn("table sample rejected",
			slog.String("reason", string(verdict.Reason)),
			slog.String("detail", verdict.Detail),
		)
		return executor.Result{}, "", ErrUnsafeQuery
	}
	result, err := s.runner.Query(ctx, verdict.SQL)
	if err != nil {
		return executor.Result{}, verdict.SQL, err
	}
	return result, verdict.SQL, nil
}

// formatMessage turns a result into the short sentence shown above the
// table in the chat client.
func formatMessage(result executor.Result) string {
	switch {
	case result.RowCount == 0:
		return "The query ran successfully but returned no matching rows."
	case result.RowCount == 1 && len(result.Columns) == 1:
		for _, v := range result.Rows[0] {
			return fmt.Sprintf("The answer is %v.", v)
		}
		return "Found 1 result."
	case result.Truncated:
		return fmt.Sprintf("Found %d results (truncated). Narrow the question to see everything.", result.RowCount)
	case result.RowCount == 1:
		return "Found 1 result."
	default:
		return fmt.Sprintf("Found %d results.", result.RowCount)
	}
}
