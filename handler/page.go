package handler

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/pkg/errors"

	"harborguide/internal/render"
	"harborguide/internal/usecase"
)

//go:embed templates/dashboard.html.tmpl
var templateFS embed.FS

var suggestedPrompts = []string{
	"What changed this week?",
	"Suggest next steps aligned to PSA strategy.",
}

type turnView struct {
	Role string
	HTML template.HTML
}

type pageView struct {
	BackendURL      string
	BackendOverride string
	Healthy         bool
	Notice          string

	KPISource string
	KPIReason string
	KPICards  []render.KPICard

	VesselHeaders []string
	VesselRows    [][]string

	EmbedConfig     template.JS
	EmbedReportName string
	EmbedDiagnostic string

	Prompts    []string
	Transcript []turnView
	Pending    bool
}

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/dashboard.html.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "handler: parse dashboard template")
	}
	return &pageRenderer{tmpl: tmpl}, nil
}

func (p *pageRenderer) render(d usecase.Dashboard, notice, override string) ([]byte, error) {
	view := pageView{
		BackendURL:      d.BackendURL,
		BackendOverride: override,
		Healthy:         d.Healthy,
		Notice:          notice,
		KPISource:       string(d.KPIs.Source),
		KPIReason:       d.KPIs.Reason,
		KPICards:        render.KPICards(d.KPIs.Value),
		VesselHeaders:   render.VesselHeaders,
		VesselRows:      render.VesselRows(d.KPIs.Value),
		EmbedDiagnostic: d.Embed.Diagnostic,
		EmbedReportName: d.Embed.ReportName,
		Prompts:         suggestedPrompts,
		Pending:         d.Pending,
	}
	if d.Embed.Config != nil {
		js, err := render.EmbedJSON(*d.Embed.Config)
		if err != nil {
			view.EmbedDiagnostic = "Report embed not available: " + err.Error()
		} else {
			view.EmbedConfig = js
		}
	}
	for _, t := range d.Transcript {
		view.Transcript = append(view.Transcript, turnView{Role: string(t.Role), HTML: render.Markdown(t.Content)})
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, view); err != nil {
		return nil, errors.Wrap(err, "handler: execute dashboard template")
	}
	return buf.Bytes(), nil
}
