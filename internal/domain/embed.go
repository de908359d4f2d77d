package domain

// EmbedConfig is the payload handed to the report widget. It is built fresh
// for every render and is only valid when both URL and token are present.
type EmbedConfig struct {
	ReportEmbedURL string         `json:"embedUrl"`
	AccessToken    string         `json:"accessToken"`
	VisualSettings map[string]any `json:"settings"`
}

// Valid reports whether the config carries everything the widget needs.
func (c EmbedConfig) Valid() bool {
	return c.ReportEmbedURL != "" && c.AccessToken != ""
}

// DefaultVisualSettings shows the filter pane collapsed.
func DefaultVisualSettings() map[string]any {
	return map[string]any{
		"panes": map[string]any{
			"filters": map[string]any{"visible": true, "expanded": false},
		},
	}
}
