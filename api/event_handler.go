package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ledgerline/taskbus/event"
)

// maxEventPayload bounds POST /v1/events bodies.
const maxEventPayload = 1 << 20

func (a *API) publishEvent(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read payload: "+err.Error())
		return
	}
	if len(payload) > maxEventPayload {
		writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds 1 MiB")
		return
	}

	evt, err := a.eng.Publish(r.Context(), channel, payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, evt)
}

func (a *API) replayEvents(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	q := r.URL.Query()

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp: "+raw)
			return
		}
		since = parsed
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	events, err := a.eng.Replay(r.Context(), channel, since, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
