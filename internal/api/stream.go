package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/api/respond"
	"github.com/ledgerline/activity-service/internal/feed"
	"github.com/ledgerline/activity-service/internal/search"
)

// StreamHandler serves GET /api/activities/stream as Server-Sent Events.
// The optional q parameter is parsed with the same grammar as smart search
// and pre-resolved into an exact live-feed filter. A reconnecting client
// passes since=<RFC3339 of its last event> to replay the disconnect gap.
type StreamHandler struct {
	registry  *feed.Registry
	keepAlive time.Duration
	log       zerolog.Logger
}

func NewStreamHandler(registry *feed.Registry, keepAlive time.Duration, log zerolog.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 20 * time.Second
	}
	return &StreamHandler{registry: registry, keepAlive: keepAlive, log: log}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		respond.WriteUnauthorized(w, "missing identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.WriteInternalError(w, "streaming unsupported")
		return
	}

	// Malformed time parameters are dropped, matching the listing endpoint.
	params := r.URL.Query()
	filter := feed.FromQuery(search.Parse(params.Get("q")),
		parseTime(params.Get("from")), parseTime(params.Get("to")))
	since := parseTime(params.Get("since"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.registry.Subscribe(r.Context(), id.OwnerID, filter, since)
	defer sub.Close()

	// Immediate comment confirms the stream is live before any event exists.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-sub.C:
			data, err := json.Marshal(a)
			if err != nil {
				h.log.Error().Err(err).Int64("id", a.ID).Msg("event marshal failed")
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: activity\ndata: %s\n\n", a.ID, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
