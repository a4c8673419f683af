// Package realtime maintains a websocket subscription to the backend's room
// event stream so the agent can react between polls.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one pushed room notification. Payload keeps the raw object so the
// handler can run it through normalization.
type Event struct {
	Type    string         `json:"type"`
	RoomID  string         `json:"roomId"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler consumes pushed events. Handlers must not block; slow work belongs
// on the caller's side of a channel.
type Handler func(Event)

// Subscriber dials the socket URL and keeps the subscription alive with
// exponential backoff, resetting after each successful connect.
type Subscriber struct {
	url     string
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer
}

func NewSubscriber(url string, handler Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:     url,
		handler: handler,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Run blocks until ctx is cancelled, reconnecting on any read or dial error.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("socket dial failed", "url", s.url, "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		s.logger.Info("socket connected", "url", s.url)
		backoff = time.Second

		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			s.logger.Warn("socket closed", "error", err)
		}
		conn.Close()
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn("unreadable socket event", "error", err)
			continue
		}
		if event.Type == "" {
			continue
		}
		s.handler(event)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
