package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeat is how often an idle /events stream sends a comment line.
var sseHeartbeat = 15 * time.Second

// serveEvents streams hub events as server-sent events until the client or
// the server goes away.
func serveEvents(w http.ResponseWriter, r *http.Request, svc Service) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()
	eventClients.Inc()
	defer eventClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lvl := requestLogLevel(r)
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	tick := time.NewTicker(sseHeartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if lvl >= LevelDebug {
				logger().Debug().Str("event", "sse").Str("name", ev.Name).Str("source", ev.Source).Msg("http")
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
