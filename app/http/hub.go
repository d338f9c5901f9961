package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/session"
)

const screenEventType = "screen"

// Hub streams screen updates to the pages showing them, one topic per screen.
type Hub struct {
	log      *zap.Logger
	srv      *sse.Server
	renderer *Renderer
	registry *persona.Registry
}

func NewHub(log *zap.Logger, renderer *Renderer, registry *persona.Registry) *Hub {
	return &Hub{
		log:      log,
		renderer: renderer,
		registry: registry,
		srv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				id := chi.URLParam(s.Req, "id")
				if id == "" {
					return sse.Subscription{}, false
				}
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{screenTopic(id)},
				}, true
			},
		},
	}
}

func screenTopic(id string) string {
	return fmt.Sprintf("screen-%s", id)
}

// Publish implements screen.Publisher.
func (h *Hub) Publish(screenID string, snap session.Snapshot) {
	log := h.log.With(zap.String("screen", screenID))
	p, ok := h.registry.Lookup(snap.Persona)
	if !ok {
		log.Warn("Snapshot for unknown persona", zap.String("persona", snap.Persona.String()))
		return
	}
	payload, err := h.renderer.payload(p, snap)
	if err != nil {
		log.Error("Failed to render screen update", zap.Error(err))
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("Failed to encode screen update", zap.Error(err))
		return
	}

	msg := &sse.Message{Type: sse.Type(screenEventType)}
	msg.AppendData(string(data))
	if err := h.srv.Publish(msg, screenTopic(screenID)); err != nil {
		log.Debug("Screen update not delivered", zap.Error(err))
	}
}

// ServeHTTP blocks until the client disconnects or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.srv.ServeHTTP(w, r)
}

func (h *Hub) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
