package render

import (
	"encoding/json"
	"html/template"

	"github.com/pkg/errors"

	"harborguide/internal/domain"
)

type embedPayload struct {
	Type        string         `json:"type"`
	EmbedURL    string         `json:"embedUrl"`
	AccessToken string         `json:"accessToken"`
	Settings    map[string]any `json:"settings"`
}

// EmbedJSON encodes the report widget config as a JavaScript object literal.
// The token type is set client side after parsing.
func EmbedJSON(cfg domain.EmbedConfig) (template.JS, error) {
	if !cfg.Valid() {
		return "", errors.New("render: embed config is missing url or token")
	}
	settings := cfg.VisualSettings
	if settings == nil {
		settings = domain.DefaultVisualSettings()
	}
	b, err := json.Marshal(embedPayload{
		Type:        "report",
		EmbedURL:    cfg.ReportEmbedURL,
		AccessToken: cfg.AccessToken,
		Settings:    settings,
	})
	if err != nil {
		return "", errors.Wrap(err, "render: encode embed config")
	}
	return template.JS(b), nil
}
