package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/sigmap/terrascene/internal/adapters/nats"
	"github.com/sigmap/terrascene/internal/pkg/metrics"
)

const wsPingInterval = 30 * time.Second

// wsMessage is sent from client to subscribe/unsubscribe to run feeds.
type wsMessage struct {
	Action  string `json:"action"`  // "subscribe" | "unsubscribe"
	RunID   string `json:"run_id"`  // run filter (optional, "" = all)
	Channel string `json:"channel"` // "runs" | "transmitters" (default: runs)
}

// wsSubject maps a channel and optional run id to a NATS subject.
func wsSubject(channel, runID string) (string, bool) {
	var prefix string
	switch channel {
	case "", "runs":
		prefix = natsadapter.SubjectRuns
	case "transmitters":
		prefix = natsadapter.SubjectTransmitters
	default:
		return "", false
	}
	if runID == "" {
		return prefix + ".>", true
	}
	return prefix + "." + runID, true
}

// wsSession relays NATS subjects to one client. Writes are serialized
// because NATS callbacks, pings and replies share the connection.
type wsSession struct {
	conn *websocket.Conn
	nc   *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func (s *wsSession) write(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(kind, data)
}

func (s *wsSession) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.write(websocket.TextMessage, data)
}

func (s *wsSession) relay(msg *nats.Msg) {
	_ = s.write(websocket.TextMessage, msg.Data)
}

func (s *wsSession) subscribe(subject string) error {
	if _, ok := s.subs[subject]; ok {
		s.reply(map[string]string{"status": "already subscribed", "subject": subject})
		return nil
	}
	sub, err := s.nc.Subscribe(subject, s.relay)
	if err != nil {
		return err
	}
	s.subs[subject] = sub
	return nil
}

func (s *wsSession) handle(m wsMessage) {
	subject, ok := wsSubject(m.Channel, m.RunID)
	if !ok {
		s.reply(map[string]string{"error": "unknown channel: " + m.Channel})
		return
	}

	switch m.Action {
	case "subscribe":
		if err := s.subscribe(subject); err != nil {
			s.reply(map[string]string{"error": "subscribe failed: " + err.Error()})
			return
		}
		s.reply(map[string]string{"status": "subscribed", "subject": subject})
	case "unsubscribe":
		sub, ok := s.subs[subject]
		if !ok {
			s.reply(map[string]string{"error": "not subscribed to " + subject})
			return
		}
		_ = sub.Unsubscribe()
		delete(s.subs, subject)
		s.reply(map[string]string{"status": "unsubscribed", "subject": subject})
	default:
		s.reply(map[string]string{"error": "unknown action: " + m.Action})
	}
}

func (s *wsSession) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *wsSession) close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
}

// WebSocketHandler upgrades to WebSocket and relays run progress events
// from NATS. Clients send {"action":"subscribe","run_id":"...","channel":"transmitters"};
// every client starts subscribed to all stage events.
func WebSocketHandler(nc *nats.Conn) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		if nc == nil {
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"error":"event stream not available"}`))
			return
		}
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		remote := c.RemoteAddr().String()
		slog.Info("ws client connected", "remote", remote)
		defer slog.Info("ws client disconnected", "remote", remote)

		s := &wsSession{conn: c, nc: nc, subs: make(map[string]*nats.Subscription)}
		defer s.close()

		all, _ := wsSubject("runs", "")
		if err := s.subscribe(all); err != nil {
			slog.Error("ws default subscribe failed", "error", err)
			return
		}

		done := make(chan struct{})
		defer close(done)
		go s.keepAlive(done)

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var m wsMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				s.reply(map[string]string{"error": "invalid JSON"})
				continue
			}
			s.handle(m)
		}
	}
}
