package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/wagate/internal/message/event"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

// EventSubscriber hands out live event streams.
type EventSubscriber interface {
	Subscribe(buffer int) (string, <-chan event.Event, func())
}

// EventsHandler streams hub events to websocket clients.
type EventsHandler struct {
	logger   *slog.Logger
	hub      EventSubscriber
	upgrader websocket.Upgrader
}

func NewEventsHandler(log *slog.Logger, hub EventSubscriber) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventsHandler{
		logger: log.With(slog.String("handler", "events")),
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// NewEventsServerHandler is the fx constructor.
func NewEventsServerHandler(log *slog.Logger, hub *event.Hub) *EventsHandler {
	return NewEventsHandler(log, hub)
}

func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/events", h.Stream)
}

// Stream upgrades the connection and forwards every event as a JSON frame
// until the client goes away.
func (h *EventsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	id, events, cancel := h.hub.Subscribe(event.DefaultBuffer)
	defer cancel()
	logger := h.logger.With(slog.String("subscriber_id", id))
	logger.Info("events client connected", slog.String("remote_ip", c.RealIP()))

	// The read loop only services control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("events read failed", slog.Any("error", err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Info("events client disconnected")
			return nil
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(eventsWriteWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("events write failed", slog.Any("error", err))
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return nil
			}
		}
	}
}
