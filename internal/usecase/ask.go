package usecase

import (
	"context"
	"strings"
	"unicode/utf8"

	"harborguide/internal/domain"
	"harborguide/internal/integrations/backend"
	"harborguide/internal/session"
)

const (
	// MaxQuestionLen caps the characters sent to the backend.
	MaxQuestionLen = 2000
	noAnswer       = "No answer."
)

// NormalizeQuestion trims the question and caps it at MaxQuestionLen
// characters. An empty result is an INVALID_INPUT error.
func NormalizeQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(q) > MaxQuestionLen {
		q = strings.TrimSpace(string([]rune(q)[:MaxQuestionLen]))
	}
	return q, nil
}

// AskQuestion returns the backend's answer when the session's backend is
// healthy and responds with 2xx, and the mock answer otherwise. The value
// is never empty. prior, when non-nil, is sent along as context.
func (r *Resolver) AskQuestion(ctx context.Context, sess *session.Session, question string, prior *domain.KPISet) Outcome[string] {
	if !r.healthy(ctx, sess) {
		r.logFallback(sess, "ask", errBackendDown)
		return Fallback(r.fallback.Answer(question), errBackendDown)
	}

	req := backend.AskRequest{Question: question}
	if prior != nil && !prior.Empty() {
		req.KPIs = prior.KPIs
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Ask)
	defer cancel()
	res, err := r.backend.Ask(ctx, r.BackendURL(sess), req)
	if err != nil {
		cause := classify(err)
		r.logFallback(sess, "ask", cause)
		return Fallback(r.fallback.Answer(question), cause)
	}
	answer := strings.TrimSpace(res.Answer)
	if answer == "" {
		answer = noAnswer
	}
	return Remote(answer)
}

// DisplayAnswer is the assistant turn shown for an ask outcome. Fallbacks
// lead with a diagnostic line so the reader knows the answer is canned.
func DisplayAnswer(o Outcome[string]) string {
	if o.IsRemote() {
		return o.Value
	}
	reason := o.Reason
	if reason == "" {
		reason = "backend unavailable"
	}
	return "_Backend error: " + reason + ". Showing offline answer._\n\n" + o.Value
}
