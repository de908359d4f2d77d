package usecase

import (
	"context"

	"harborguide/internal/domain"
	"harborguide/internal/session"
)

// Dashboard is everything one page render needs.
type Dashboard struct {
	BackendURL string
	Healthy    bool
	KPIs       Outcome[domain.KPISet]
	Embed      EmbedResult
	Transcript []domain.ChatTurn
	Pending    bool
}

// Dashboard checks health, then loads KPIs, the embed config and the
// transcript in turn. Backend calls run one at a time per session.
func (c *Chat) Dashboard(ctx context.Context, sess *session.Session) (Dashboard, error) {
	r := c.resolver
	view := Dashboard{
		BackendURL: r.BackendURL(sess),
		Healthy:    r.CheckHealth(ctx, sess),
	}
	view.KPIs = r.FetchKPIs(ctx, sess)
	view.Embed = r.FetchEmbedConfig(ctx, sess)

	turns, err := c.Transcript(ctx, sess)
	if err != nil {
		return view, err
	}
	view.Transcript = turns
	view.Pending = sess.Pending()
	return view, nil
}

// KPIs returns the KPI outcome for the session's backend.
func (c *Chat) KPIs(ctx context.Context, sess *session.Session) Outcome[domain.KPISet] {
	return c.resolver.FetchKPIs(ctx, sess)
}
