package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/feed"
	"github.com/banshee-data/occupancy.report/internal/httputil"
)

// streamMessage is one SSE payload: the stats view plus the event that
// caused it, if any.
type streamMessage struct {
	StatsResponse
	Event *counting.Event `json:"event,omitempty"`
}

// streamUpdates sends the current stats and then every published update as
// server-sent events until the client goes away.
func (s *Server) streamUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "live feed disabled")
		return
	}

	updates, cancel, err := s.hub.Subscribe(0)
	if errors.Is(err, feed.ErrTooManySubscribers) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	defer cancel()

	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(name string, msg streamMessage) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send("stats", streamMessage{StatsResponse: newStatsResponse(stats, s.engine.Capacity(), s.opts.Clock.Now())}) {
		return
	}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			msg := streamMessage{
				StatsResponse: newStatsResponse(u.Stats, u.Capacity, u.Timestamp),
				Event:         u.Event,
			}
			name := "stats"
			if u.Event != nil {
				name = string(u.Event.Type)
			}
			if !send(name, msg) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
