package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/events"
	"github.com/rs/zerolog/hlog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Origin checks are left to the CORS middleware.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEventsWS is the WebSocket twin of StreamEvents. Each event is sent as
// one JSON text frame. Filters are the same query parameters, and
// ?last_event_id= replays from the ring buffer.
func (h *EventsHandler) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, CodeInternal, "event streaming not available")
		return
	}

	filter := events.Filter{}
	if v, ok := QueryString(r, "types"); ok {
		filter.Types = strings.Split(v, ",")
	}
	if v, ok := QueryString(r, "job_id"); ok {
		filter.JobID = v
	}

	log := hlog.FromRequest(r)
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	// The read pump only handles control frames; any client message or
	// close ends the stream.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e events.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e) == nil
	}

	if lastEventID, ok := QueryString(r, "last_event_id"); ok {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			if !send(e) {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	log.Info().Msg("websocket client connected")
	for {
		select {
		case <-closed:
			log.Info().Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !send(e) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
