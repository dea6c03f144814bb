package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/notify"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamBuffer bounds the notifications queued for one stream client.
const streamBuffer = 64

// streamQueue hands notifications from the dispatcher to the stream writer
// without blocking the caller. A full queue drops the notification.
type streamQueue struct {
	ch      chan notify.Notification
	dropped atomic.Int64
}

func newStreamQueue(size int) *streamQueue {
	return &streamQueue{ch: make(chan notify.Notification, size)}
}

func (q *streamQueue) offer(n notify.Notification) bool {
	select {
	case q.ch <- n:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// streamNotifications handles GET /v1/notifications/stream. Every new
// notification is written as one JSON text frame until the client goes away.
func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// The read loop only detects the peer closing the connection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	queue := newStreamQueue(streamBuffer)
	s.notifications.Subscribe(ctx, func(n notify.Notification) {
		if ctx.Err() != nil {
			return
		}
		if !queue.offer(n) {
			s.logger.Debug("notification stream client is behind, dropping notification", zap.Int64("id", n.ID))
		}
	})

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case n := <-queue.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Debug("notification stream write failed", zap.Error(err))
				done = true
			}
		}
	}
	if dropped := queue.dropped.Load(); dropped > 0 {
		s.logger.Info("notification stream dropped notifications", zap.Int64("dropped", dropped))
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}
