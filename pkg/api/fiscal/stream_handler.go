package fiscal

import (
	"encoding/json"
	"fmt"
	"net/http"

	"fiscal_notes/pkg/core/pipeline"
	"fiscal_notes/pkg/models"
)

// HandleStream handles GET /api/fiscal/stream?bill= as an SSE stream of
// pipeline progress events. A client joining mid-run first receives the
// current run's recorded events, then live ones. The stream closes after a
// terminal pipeline or job event, or when the client disconnects.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	// SSE headers must be set before any write
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sendEvent := func(ev pipeline.Event) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	bill := r.URL.Query().Get("bill")
	if _, err := models.ParseBillID(bill); err != nil {
		sendEvent(pipeline.Event{Step: "init", Status: "failed", Detail: err.Error()})
		return
	}

	events, cancel := h.Broker.Subscribe(bill)
	defer cancel()

	sendEvent(pipeline.Event{Step: "init", Status: "running", Detail: "connected to " + bill})

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			sendEvent(ev)
			if terminal(ev) {
				return
			}
		}
	}
}

// terminal reports whether ev ends the stream: the pipeline finishing
// either way, or the job record reaching a final state without the
// pipeline ever starting.
func terminal(ev pipeline.Event) bool {
	if ev.Step != "pipeline" && ev.Step != "job" {
		return false
	}
	return ev.Status == "done" || ev.Status == "failed"
}
