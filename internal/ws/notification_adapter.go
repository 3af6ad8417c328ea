package ws

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

// Notifier реализует repository.Notifier поверх хаба: каждое уведомление уходит
// всем получателям, у кого есть открытое подключение.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) Notify(_ context.Context, recipients []uuid.UUID, note repository.Notification) {
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	for _, id := range recipients {
		if _, dup := seen[id]; dup || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		if err := n.hub.BroadcastToUser(id, note.Type, note); err != nil {
			n.hub.log.WithError(err).WithField("booking_id", note.BookingID).Warn("ws: notification not sent")
		}
	}
}
