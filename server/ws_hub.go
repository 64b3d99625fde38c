package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/schedule"
)

const maxWSConnections = 200

// EventStream bridges the in-process task event bus to websocket clients.
// Each client gets its own bus subscription; a client that stops reading
// loses events rather than slowing the scheduler.
type EventStream struct {
	hub      *schedule.EventHub
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int

	log *logrus.Entry
}

func NewEventStream(hub *schedule.EventHub) *EventStream {
	return &EventStream{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "events"),
	}
}

func (s *EventStream) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients >= maxWSConnections {
		return false
	}
	s.clients++
	return true
}

func (s *EventStream) release() {
	s.mu.Lock()
	s.clients--
	s.mu.Unlock()
}

// ServeHTTP upgrades the connection and forwards task events until either
// side goes away.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.tryAcquire() {
		http.Error(w, "too many event stream clients", http.StatusServiceUnavailable)
		return
	}
	defer s.release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	// drain the read side so we notice the peer closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.WithError(err).Debug("websocket write failed, dropping client")
				return
			}
		}
	}
}
