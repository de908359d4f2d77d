package usecase

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"harborguide/internal/domain"
	"harborguide/internal/session"
)

// TranscriptStore is the conversation store the chat service writes to.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, turns ...domain.ChatTurn) error
	List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	Clear(ctx context.Context, sessionID string) error
}

// Chat runs a question through the resolver and records the exchange.
type Chat struct {
	resolver    *Resolver
	store       TranscriptStore
	includeKPIs bool
	logger      zerolog.Logger
}

type AskResult struct {
	Answer     Outcome[string]
	Transcript []domain.ChatTurn
}

func NewChat(r *Resolver, store TranscriptStore, includeKPIs bool, logger zerolog.Logger) (*Chat, error) {
	if r == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	return &Chat{
		resolver:    r,
		store:       store,
		includeKPIs: includeKPIs,
		logger:      logger.With().Str("component", "chat").Logger(),
	}, nil
}

// Ask answers question and appends the user and assistant turns as one pair.
// Only invalid input and store failures are errors; backend trouble yields
// a fallback answer.
func (c *Chat) Ask(ctx context.Context, sess *session.Session, question string) (AskResult, error) {
	q, err := NormalizeQuestion(question)
	if err != nil {
		return AskResult{}, err
	}

	done := sess.BeginAsk()
	defer done()

	var prior *domain.KPISet
	if c.includeKPIs {
		if kpis := c.resolver.FetchKPIs(ctx, sess); kpis.IsRemote() {
			prior = &kpis.Value
		}
	}

	answer := c.resolver.AskQuestion(ctx, sess, q, prior)
	if err := c.store.Append(ctx, sess.ID, domain.UserTurn(q), domain.AssistantTurn(DisplayAnswer(answer))); err != nil {
		return AskResult{}, newError(ErrorInternal, "transcript_write_error", err)
	}
	c.logger.Info().
		Str("session_id", sess.ID).
		Str("source", string(answer.Source)).
		Str("reason", answer.Reason).
		Int("question_len", len(q)).
		Msg("question answered")

	transcript, err := c.store.List(ctx, sess.ID)
	if err != nil {
		return AskResult{}, newError(ErrorInternal, "transcript_read_error", err)
	}
	return AskResult{Answer: answer, Transcript: transcript}, nil
}

// Transcript returns the session's turns oldest first.
func (c *Chat) Transcript(ctx context.Context, sess *session.Session) ([]domain.ChatTurn, error) {
	turns, err := c.store.List(ctx, sess.ID)
	if err != nil {
		return nil, newError(ErrorInternal, "transcript_read_error", err)
	}
	return turns, nil
}

// Clear empties the session's transcript.
func (c *Chat) Clear(ctx context.Context, sess *session.Session) error {
	if err := c.store.Clear(ctx, sess.ID); err != nil {
		return newError(ErrorInternal, "transcript_clear_error", err)
	}
	c.logger.Info().Str("session_id", sess.ID).Msg("transcript cleared")
	return nil
}
