package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// ListingCounter reports how many listings are open, for the WELCOME frame.
type ListingCounter func(ctx context.Context) (int, error)

// Server streams market events to websocket clients. The feed is
// read-only; inbound frames other than control frames are ignored.
type Server struct {
	hub   *Hub
	count ListingCounter
	log   logrus.FieldLogger
	queue int

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, count ListingCounter, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		hub:   hub,
		count: count,
		log:   logger.WithField("component", "ws"),
		queue: 64,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, out := s.hub.Subscribe(s.queue)
		defer s.hub.Unsubscribe(id)

		welcome := protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version}
		if s.count != nil {
			n, err := s.count(r.Context())
			if err != nil {
				s.log.WithError(err).Warn("welcome listing count")
			}
			welcome.Listings = n
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer conn.Close()
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed closed"), time.Now().Add(time.Second))
						cancel()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop keeps control frames flowing and notices disconnects.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for ctx.Err() == nil {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		cancel()

		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
