package usecase

import (
	"context"
	"strings"

	"harborguide/internal/domain"
	"harborguide/internal/session"
)

// EmbedResult is either a usable Config or a Diagnostic explaining why the
// report panel stays empty.
type EmbedResult struct {
	Config     *domain.EmbedConfig
	ReportName string
	Missing    []string
	Diagnostic string
}

// OK reports whether the report can be embedded.
func (e EmbedResult) OK() bool { return e.Config != nil }

// FetchEmbedConfig builds the report widget payload from /getEmbedToken.
// Failures turn into a diagnostic, never an error.
func (r *Resolver) FetchEmbedConfig(ctx context.Context, sess *session.Session) EmbedResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Embed)
	defer cancel()

	res, err := r.backend.EmbedToken(ctx, r.BackendURL(sess))
	if err != nil {
		cause := classify(err)
		r.logFallback(sess, "embed", cause)
		return EmbedResult{Diagnostic: "Report embed not available: " + cause.Reason}
	}

	var embedURL, name string
	if len(res.Reports) > 0 {
		embedURL = res.Reports[0].EmbedURL
		name = res.Reports[0].Name
	}
	var missing []string
	if embedURL == "" {
		missing = append(missing, "embedUrl")
	}
	if res.AccessToken == "" {
		missing = append(missing, "accessToken")
	}
	if len(missing) > 0 {
		r.logger.Warn().
			Str("session_id", sess.ID).
			Strs("missing", missing).
			Msg("embed token response incomplete")
		return EmbedResult{
			Missing:    missing,
			Diagnostic: "Backend missing fields: " + strings.Join(missing, ", "),
		}
	}

	return EmbedResult{
		Config: &domain.EmbedConfig{
			ReportEmbedURL: embedURL,
			AccessToken:    res.AccessToken,
			VisualSettings: domain.DefaultVisualSettings(),
		},
		ReportName: name,
	}
}
