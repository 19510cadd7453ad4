package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var metricEventStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "sidebar",
	Name:      "event_stream_connections",
	Help:      "Open websocket telemetry streams.",
})

// eventStream relays hub events to websocket clients. Clients may narrow
// the stream with ?types=item.loaded,item.failed.
type eventStream struct {
	hub      *telemetry.Hub
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	conn    *websocket.Conn
	events  <-chan telemetry.Event
	cancel  func()
	writeMu sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
}

// checkOrigin decides which browser origins may open a stream.
func newEventStream(hub *telemetry.Hub, logger *logging.Logger, checkOrigin func(*http.Request) bool) *eventStream {
	return &eventStream{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (es *eventStream) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if es.hub == nil {
		respondError(w, http.StatusServiceUnavailable, sberrors.New(sberrors.ErrCodeInternal, "telemetry is disabled"))
		return
	}

	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = es.logger.Warn(logging.CategoryServer, "events.upgrade_failed", "websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	events, cancel := es.hub.Subscribe(parseTypes(r.URL.Query().Get("types"))...)
	// The request context ends once the handler returns.
	ctx, stop := context.WithCancel(context.Background())
	sub := &subscriber{
		conn:   conn,
		events: events,
		cancel: cancel,
		ctx:    ctx,
		stop:   stop,
	}

	es.mu.Lock()
	es.subscribers[sub] = struct{}{}
	es.mu.Unlock()
	metricEventStreams.Inc()

	_ = es.logger.Info(logging.CategoryServer, "events.connected", "event stream connected", map[string]any{
		"remote_addr": r.RemoteAddr,
	})

	go sub.writePump()
	go es.readPump(sub)
}

func parseTypes(raw string) []telemetry.EventType {
	var types []telemetry.EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, telemetry.EventType(part))
		}
	}
	return types
}

// readPump keeps the read deadline alive and detects client close.
func (es *eventStream) readPump(sub *subscriber) {
	defer es.remove(sub)

	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				_ = es.logger.Debug(logging.CategoryServer, "events.read_error", "event stream read failed", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}
	}
}

func (sub *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.stop()
	}()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case event, ok := <-sub.events:
			if !ok {
				sub.writeMu.Lock()
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				sub.writeMu.Unlock()
				return
			}
			sub.writeMu.Lock()
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteJSON(event)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ticker.C:
			sub.writeMu.Lock()
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteMessage(websocket.PingMessage, nil)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (es *eventStream) remove(sub *subscriber) {
	es.mu.Lock()
	_, ok := es.subscribers[sub]
	delete(es.subscribers, sub)
	es.mu.Unlock()
	if !ok {
		return
	}

	sub.stop()
	sub.cancel()
	sub.writeMu.Lock()
	_ = sub.conn.Close()
	sub.writeMu.Unlock()
	metricEventStreams.Dec()
}

func (es *eventStream) closeAll() {
	es.mu.Lock()
	subs := make([]*subscriber, 0, len(es.subscribers))
	for sub := range es.subscribers {
		subs = append(subs, sub)
	}
	es.mu.Unlock()

	for _, sub := range subs {
		es.remove(sub)
	}
}
