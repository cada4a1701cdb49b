package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/epimonitor/manager/internal/events"
)

// eventsKeepAlive is the interval between SSE comment lines on an idle stream.
const eventsKeepAlive = 30 * time.Second

// EventsHandler streams session activity as server-sent events.
// GET /events?app_name=<prefix> limits the stream to matching apps.
type EventsHandler struct {
	notifier *events.Notifier
	done     <-chan struct{}
}

// NewEventsHandler creates a stream handler. Streams end when done closes.
func NewEventsHandler(notifier *events.Notifier, done <-chan struct{}) *EventsHandler {
	return &EventsHandler{notifier: notifier, done: done}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	rc.SetWriteDeadline(time.Time{})

	var filters []string
	if app := r.URL.Query().Get("app_name"); app != "" {
		filters = append(filters, app)
	}
	sub := h.notifier.Subscribe(filters...)
	defer h.notifier.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(eventsKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
