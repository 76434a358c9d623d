// Package event streams locally published notifications to the browser as
// server-sent events.
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/channel"
	"github.com/kazz187/taskwarden/internal/eventbus"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

const keepAliveInterval = 30 * time.Second

type Server struct {
	eventBus *eventbus.Bus
}

func NewServer(eventBus *eventbus.Bus) *Server {
	return &Server{eventBus: eventBus}
}

// SubscribeEvents writes every event addressed to the caller until the
// client goes away. Errors before the stream starts go through the JSON
// response middleware.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := authz.ClaimsFromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "unauthenticated", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unimplemented, "streaming not supported", nil)
		return
	}

	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)
	opened := time.Now()
	slog.InfoContext(ctx, "event stream opened", "subscriber_id", subID)
	defer func() {
		slog.InfoContext(ctx, "event stream closed", "subscriber_id", subID, "duration", time.Since(opened))
	}()

	topics := r.URL.Query()["topic"]
	identities := c.Identities()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !slices.Contains(identities, ev.Attributes[channel.AttrRecipient]) {
				continue
			}
			if len(topics) > 0 && !slices.Contains(topics, ev.Topic) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode event", "id", ev.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
