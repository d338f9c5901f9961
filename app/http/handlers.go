package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/screen"
	"holyagents.arpa/app/session"
	"holyagents.arpa/web"
)

const defaultStatsWindow = 24 * time.Hour

func (h *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/healthz", h.healthz)
	r.Get("/ready", h.ready)

	static, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		// embedded at build time, cannot be missing
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/", h.landing)
	for _, p := range h.registry.All() {
		r.Get(p.Path, h.openScreen(p.ID))
	}

	r.Route("/screens/{id}", func(r chi.Router) {
		r.Post("/messages", h.submit)
		r.Get("/events", h.events)
		r.Get("/transcript", h.transcript)
		r.Post("/leave", h.leave)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/personas", h.personas)
		r.Get("/stats", h.statsSummary)
	})
	return r
}

func (h *Server) landing(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "landing.html", landingPage{
		pageData: pageData{Title: "Holy Agents", BodyClass: "home"},
		Splash:   splashLines,
		Personas: h.registry.All(),
	})
}

// openScreen starts a fresh screen on every visit, matching a new page mount.
func (h *Server) openScreen(id persona.ID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scr, err := h.screens.Open(id)
		if errors.Is(err, screen.ErrShuttingDown) {
			http.Error(w, "Shutting down.", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			h.log.Error("Failed to open screen", zap.String("persona", id.String()), zap.Error(err))
			http.Error(w, "Unable to open screen.", http.StatusInternalServerError)
			return
		}
		p := scr.Persona()
		w.Header().Set("Cache-Control", "no-store")
		h.renderPage(w, "screen.html", screenPage{
			pageData: pageData{Title: p.Name + " | Holy Agents", BodyClass: "screen-page"},
			Persona:  p,
			ScreenID: scr.ID,
			Tag:      scr.Tag(),
			View:     newTranscriptView(p, scr.Snapshot()),
		})
	}
}

type submitRequest struct {
	Text string `json:"text"`
}

func (h *Server) submit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := readText(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, screenPayload{Error: "invalid request body"})
		return
	}

	snap, err := h.screens.Submit(r.Context(), id, text)
	code := http.StatusAccepted
	switch {
	case errors.Is(err, screen.ErrUnknownScreen), errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusNotFound, screenPayload{Error: "unknown screen"})
		return
	case errors.Is(err, session.ErrEmptyInput):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, screen.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, screenPayload{Error: "shutting down"})
		return
	case err != nil:
		h.log.Error("Submit failed", zap.String("screen", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, screenPayload{Error: "internal error"})
		return
	}
	h.writeScreen(w, code, snap, err)
}

func readText(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Text, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("text"), nil
}

// events streams updates until the page goes away. A dropped stream keeps the screen for
// the reconnect grace; the leave beacon is what tears it down.
func (h *Server) events(w http.ResponseWriter, r *http.Request) {
	scr, err := h.screens.Connect(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Unknown screen.", http.StatusNotFound)
		return
	}
	defer h.screens.Disconnect(scr.ID)
	h.hub.ServeHTTP(w, r)
}

func (h *Server) transcript(w http.ResponseWriter, r *http.Request) {
	scr, ok := h.screens.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, screenPayload{Error: "unknown screen"})
		return
	}
	h.writeScreen(w, http.StatusOK, scr.Snapshot(), nil)
}

func (h *Server) leave(w http.ResponseWriter, r *http.Request) {
	if !h.screens.Leave(chi.URLParam(r, "id")) {
		http.Error(w, "Unknown screen.", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Server) personas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.All())
}

func (h *Server) statsSummary(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger disabled"})
		return
	}
	window := defaultStatsWindow
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a positive duration"})
			return
		}
		window = d
	}

	summaries, err := h.stats.Summarize(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.log.Error("Failed to summarize ledger", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":        window.String(),
		"open_screens": h.screens.Len(),
		"personas":     summaries,
	})
}

func (h *Server) writeScreen(w http.ResponseWriter, code int, snap session.Snapshot, rejected error) {
	p, ok := h.registry.Lookup(snap.Persona)
	if !ok {
		writeJSON(w, http.StatusNotFound, screenPayload{Error: "unknown screen"})
		return
	}
	payload, err := h.renderer.payload(p, snap)
	if err != nil {
		h.log.Error("Failed to render transcript", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, screenPayload{Error: "internal error"})
		return
	}
	if rejected != nil {
		payload.Error = rejected.Error()
	}
	writeJSON(w, code, payload)
}

func (h *Server) renderPage(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Page(w, name, data); err != nil {
		h.log.Error("Failed to render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "Unable to render page.", http.StatusInternalServerError)
	}
}
