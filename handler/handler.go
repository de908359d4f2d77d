package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"harborguide/internal/domain"
	"harborguide/internal/integrations/backend"
	"harborguide/internal/session"
	"harborguide/internal/usecase"
)

const maxFormBytes = 64 << 10

// Service is the dashboard and chat logic behind the routes.
type Service interface {
	Dashboard(ctx context.Context, sess *session.Session) (usecase.Dashboard, error)
	Ask(ctx context.Context, sess *session.Session, question string) (usecase.AskResult, error)
	Transcript(ctx context.Context, sess *session.Session) ([]domain.ChatTurn, error)
	Clear(ctx context.Context, sess *session.Session) error
	KPIs(ctx context.Context, sess *session.Session) usecase.Outcome[domain.KPISet]
}

type Handler struct {
	svc      Service
	sessions *session.Manager
	logger   zerolog.Logger
	page     *pageRenderer
	root     http.Handler
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer     string            `json:"answer"`
	Source     usecase.Source    `json:"source"`
	Reason     string            `json:"reason,omitempty"`
	Transcript []domain.ChatTurn `json:"transcript"`
}

type transcriptResponse struct {
	Transcript []domain.ChatTurn `json:"transcript"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(svc Service, sessions *session.Manager, logger zerolog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session manager must not be nil")
	}
	page, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		svc:      svc,
		sessions: sessions,
		logger:   logger.With().Str("component", "http").Logger(),
		page:     page,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.dashboard)
	mux.HandleFunc("POST /chat/ask", h.chatAsk)
	mux.HandleFunc("POST /chat/clear", h.chatClear)
	mux.HandleFunc("POST /settings/backend", h.setBackend)
	mux.HandleFunc("POST /api/ask", h.apiAsk)
	mux.HandleFunc("GET /api/kpis", h.apiKPIs)
	mux.HandleFunc("GET /api/transcript", h.apiTranscript)
	mux.HandleFunc("DELETE /api/transcript", h.apiClearTranscript)
	mux.HandleFunc("GET /healthz", h.healthz)

	h.root = correlationMiddleware(loggingMiddleware(h.logger, mux))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	view, err := h.svc.Dashboard(r.Context(), sess)
	if err != nil {
		h.logError(r, err, "dashboard")
		// The page still renders; only the transcript is missing.
		view.Transcript = nil
	}
	notice := noticeText(r.URL.Query().Get("notice"))
	if err != nil && notice == "" {
		notice = "Chat history is temporarily unavailable."
	}
	body, rerr := h.page.render(view, notice, sess.BackendURL(""))
	if rerr != nil {
		h.logError(r, rerr, "render dashboard")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

func (h *Handler) chatAsk(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		redirectHome(w, r, "bad_form")
		return
	}
	_, err := h.svc.Ask(r.Context(), sess, r.PostFormValue("question"))
	if err != nil {
		h.logError(r, err, "chat ask")
		redirectHome(w, r, noticeFor(err))
		return
	}
	redirectHome(w, r, "")
}

func (h *Handler) chatClear(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	if err := h.svc.Clear(r.Context(), sess); err != nil {
		h.logError(r, err, "chat clear")
		redirectHome(w, r, "storage")
		return
	}
	redirectHome(w, r, "")
}

func (h *Handler) setBackend(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		redirectHome(w, r, "bad_form")
		return
	}
	raw := strings.TrimSpace(r.PostFormValue("backend_url"))
	if raw != "" {
		if _, err := backend.EndpointURL(raw, ""); err != nil {
			redirectHome(w, r, "invalid_backend_url")
			return
		}
	}
	sess.SetBackendURL(raw)
	h.logger.Info().
		Str("session_id", sess.ID).
		Str("correlation_id", correlationIDFrom(r.Context())).
		Str("backend_url", raw).
		Msg("backend url override set")
	redirectHome(w, r, "")
}

func (h *Handler) apiAsk(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
		return
	}
	res, err := h.svc.Ask(r.Context(), sess, req.Question)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:     res.Answer.Value,
		Source:     res.Answer.Source,
		Reason:     res.Answer.Reason,
		Transcript: res.Transcript,
	})
}

func (h *Handler) apiKPIs(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	writeJSON(w, http.StatusOK, h.svc.KPIs(r.Context(), sess))
}

func (h *Handler) apiTranscript(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	turns, err := h.svc.Transcript(r.Context(), sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Transcript: turns})
}

func (h *Handler) apiClearTranscript(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Resolve(w, r)
	if err := h.svc.Clear(r.Context(), sess); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Transcript: []domain.ChatTurn{}})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		h.logError(r, err, "unexpected error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	status := statusFor(uerr.Code)
	if status >= http.StatusInternalServerError {
		h.logError(r, err, "request failed")
	}
	writeJSON(w, status, errorResponse{Error: string(uerr.Code), Reason: uerr.Reason})
}

func (h *Handler) logError(r *http.Request, err error, msg string) {
	h.logger.Error().
		Err(err).
		Str("correlation_id", correlationIDFrom(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(msg)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorUpstream, usecase.ErrorMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func noticeFor(err error) string {
	var uerr *usecase.Error
	if errors.As(err, &uerr) && uerr.Code == usecase.ErrorInvalidInput {
		return uerr.Reason
	}
	return "storage"
}

func noticeText(key string) string {
	switch key {
	case "":
		return ""
	case "empty_question":
		return "Please enter a question."
	case "invalid_backend_url":
		return "Backend URL must be an http or https address."
	case "bad_form":
		return "The form could not be read. Please try again."
	case "storage":
		return "Chat history could not be saved. Please try again."
	default:
		return ""
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request, notice string) {
	target := "/"
	if notice != "" {
		target += "?notice=" + notice
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
