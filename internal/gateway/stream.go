// ABOUTME: Server-sent event stream of committed gateway events
// ABOUTME: Backfills from the store when asked, then reads the store each time the broadcaster signals a commit

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/pulsar-gateway/internal/store"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 15 * time.Second

// handleEventStream handles GET /api/events/stream. Query parameters match
// handleListEvents; when after is given, stored events past it are replayed
// before live ones, otherwise the stream starts at the latest committed event.
//
// Notifications run after commit and may arrive out of Seq order, so a live
// event is only a signal to read the store from the last delivered Seq.
// Every operation locks the gateway record, which makes Seq order match
// commit order, so that read never skips an event.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		g.sendError(w, err)
		return
	}
	backfill := r.URL.Query().Has("after")

	var kind store.EventKind
	if filter.Kind != nil {
		kind = *filter.Kind
	}

	// Subscribe before reading the store so nothing committed in between is missed.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	live, _ := g.broadcaster.Subscribe(ctx, kind)

	if !backfill {
		if filter.AfterSeq, err = g.store.LatestEventSeq(ctx); err != nil {
			g.sendError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if backfill && !g.catchUp(ctx, w, flusher, &filter) {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= filter.AfterSeq {
				continue
			}
			if filter.Actor != nil && ev.Actor != *filter.Actor {
				continue
			}
			if !g.catchUp(ctx, w, flusher, &filter) {
				return
			}
		}
	}
}

// catchUp writes every stored event matching filter past filter.AfterSeq,
// advancing AfterSeq as it goes. It reports false if the stream must end.
func (g *Gateway) catchUp(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, filter *store.EventFilter) bool {
	for {
		evs, err := g.store.ListEvents(ctx, *filter)
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Warn("event stream read failed", "after", filter.AfterSeq, "error", err)
				g.writeSSEEvent(w, "error", ErrorResponse{Error: "reading events failed"})
				flusher.Flush()
			}
			return false
		}
		for _, ev := range evs {
			g.writeSSEEvent(w, string(ev.Kind), eventResponse(ev))
			filter.AfterSeq = ev.Seq
		}
		flusher.Flush()
		if len(evs) < store.NormalizeEventLimit(filter.Limit) {
			return true
		}
	}
}

// writeSSEEvent writes one SSE frame. The frame id is the event sequence
// when data carries one.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	if ev, ok := data.(EventResponse); ok {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
