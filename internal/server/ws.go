package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/meetingmind/internal/broadcast"
	"github.com/mohammad-safakhou/meetingmind/internal/pipeline"
	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 1 << 20
	endTimeout   = 3 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 << 10,
	WriteBufferSize: 16 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controlMessage is a text frame sent by the producer.
type controlMessage struct {
	Type string `json:"type"`
}

// SocketHandler serves the producer and subscriber meeting sockets.
type SocketHandler struct {
	Live     Live
	Hub      Subscriptions
	Meetings MeetingStore
	Logger   *log.Logger
}

func (h *SocketHandler) Register(g *echo.Group) {
	g.GET("/:id", h.producer, runtime.RequireScopes(runtime.ScopeStream))
	g.GET("/:id/events", h.events, runtime.RequireScopes(runtime.ScopeRead))
}

func liveError(err error) error {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return echo.NewHTTPError(http.StatusConflict, "meeting already has an active producer")
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no live session to resume")
	case errors.Is(err, session.ErrNotStreaming):
		return echo.NewHTTPError(http.StatusConflict, "meeting is finalizing")
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

// producer accepts audio for one meeting. Binary frames are audio; a text
// frame {"type":"END"} or a normal close ends the meeting. Any other
// disconnect detaches the producer, which may resume with ?resume=true.
func (h *SocketHandler) producer(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "meeting id required")
	}
	var (
		in  *pipeline.Ingest
		err error
	)
	if c.QueryParam("resume") == "true" {
		in, err = h.Live.Attach(id, userID(c))
	} else {
		if err := h.storedOwnerCheck(c, id, true); err != nil {
			return err
		}
		in, err = h.Live.Start(c.Request().Context(), id, pipeline.WithOwner(userID(c), c.QueryParam("title")))
	}
	if err != nil {
		return liveError(err)
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Logger.Printf("meeting=%s upgrade: %v", id, err)
		in.Detach()
		return nil
	}
	defer conn.Close()

	sub := h.Hub.Subscribe(id)
	w := &socketWriter{conn: conn}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		w.pump(sub)
	}()

	ended := h.readAudio(conn, in)
	if ended {
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		if _, err := in.End(ctx); err != nil {
			h.Logger.Printf("meeting=%s finalize: %v", id, err)
		}
		cancel()
	} else {
		in.Detach()
	}
	sub.Close()
	<-pumpDone
	w.close(websocket.CloseNormalClosure, "meeting ended")
	return nil
}

// readAudio relays frames until the producer ends or drops. It reports
// whether the stream ended deliberately.
func (h *SocketHandler) readAudio(conn *websocket.Conn, in *pipeline.Ingest) bool {
	id := in.MeetingID()
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true
			}
			h.Logger.Printf("meeting=%s producer dropped: %v", id, err)
			return false
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		switch mt {
		case websocket.BinaryMessage:
			if err := in.Write(data); err != nil {
				if errors.Is(err, session.ErrNotStreaming) {
					h.Logger.Printf("meeting=%s audio after end of stream", id)
					return true
				}
				h.Logger.Printf("meeting=%s audio frame dropped: %v", id, err)
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.Logger.Printf("meeting=%s bad control frame: %v", id, err)
				continue
			}
			if strings.EqualFold(msg.Type, "END") {
				return true
			}
		}
	}
}

// events is a read-only feed of a meeting's live events.
func (h *SocketHandler) events(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.canWatch(c, id); err != nil {
		return err
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Logger.Printf("meeting=%s upgrade: %v", id, err)
		return nil
	}
	defer conn.Close()

	sub := h.Hub.Subscribe(id)
	w := &socketWriter{conn: conn}
	go func() {
		// reads only to service pongs and notice the close
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()
	w.pump(sub)
	if n := sub.Dropped(); n > 0 {
		h.Logger.Printf("meeting=%s subscriber left after missing %d events", id, n)
	}
	w.close(websocket.CloseNormalClosure, "")
	return nil
}

// canWatch allows the owner of a live or recorded meeting to subscribe.
// Anything else answers 404.
func (h *SocketHandler) canWatch(c echo.Context, id string) error {
	if id == "" {
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	if h.Live == nil {
		return h.storedOwnerCheck(c, id, false)
	}
	if owner, live := h.Live.Owner(id); live {
		if owner != "" && owner != userID(c) {
			return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
		}
		return nil
	}
	return h.storedOwnerCheck(c, id, false)
}

// storedOwnerCheck rejects meetings recorded for another user. allowMissing
// lets a producer start a meeting that has no record yet.
func (h *SocketHandler) storedOwnerCheck(c echo.Context, id string, allowMissing bool) error {
	if h.Meetings == nil {
		if allowMissing {
			return nil
		}
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	m, err := h.Meetings.GetMeeting(c.Request().Context(), id)
	switch {
	case errors.Is(err, models.ErrMeetingNotFound):
		if allowMissing {
			return nil
		}
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case m.UserID != "" && m.UserID != userID(c):
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	return nil
}

// socketWriter serializes writes; gorilla permits one concurrent writer.
type socketWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *socketWriter) write(mt int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(mt, data)
}

func (w *socketWriter) close(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// pump forwards events until the subscription closes, then drains it.
func (w *socketWriter) pump(sub *broadcast.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	failed := false
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if failed {
				continue
			}
			if err := w.write(websocket.TextMessage, msg); err != nil {
				failed = true
			}
		case <-ticker.C:
			if failed {
				continue
			}
			w.mu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				failed = true
			}
		}
	}
}
