package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// topics streamed to /ws: every OMS domain event an operator dashboard
// cares about watching live.
var topics = []events.Event{
	events.EventIntentResult,
	events.EventOrderUpdate,
	events.EventFill,
	events.EventRiskDecision,
	events.EventReconciliationCycle,
	events.EventDriftDetected,
	events.EventSafeMode,
}

type wsEnvelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	type sub struct {
		ch     <-chan any
		unsub  func()
		topic  events.Event
	}
	subs := make([]sub, 0, len(topics))
	merged := make(chan wsEnvelope, 256)
	for _, t := range topics {
		ch, unsub := s.Bus.Subscribe(t, 64)
		subs = append(subs, sub{ch: ch, unsub: unsub, topic: t})
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				merged <- wsEnvelope{Topic: string(topic), Payload: payload}
			}
		}(t, ch)
	}
	defer func() {
		for _, s := range subs {
			s.unsub()
		}
	}()

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
