package hub

import (
	"Roomchat/internal/event"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DeliveryReport summarizes one fan-out.
type DeliveryReport struct {
	Delivered int
	Failed    int
}

// Dispatcher fans events out to the members of a room. Delivery never
// blocks: a member whose buffer is full is scheduled for removal and the
// remaining members still get the event.
type Dispatcher struct {
	rooms  *RoomRegistry
	remove func(*Client)
	logger *zap.Logger
}

func NewDispatcher(rooms *RoomRegistry, remove func(*Client), logger *zap.Logger) *Dispatcher {
	return &Dispatcher{rooms: rooms, remove: remove, logger: logger}
}

// Publish delivers ev to every member connection of the room.
func (d *Dispatcher) Publish(roomID string, ev event.WsEvent) DeliveryReport {
	return d.deliver(roomID, ev, "")
}

// PublishExcept delivers ev to every member connection not owned by userID.
func (d *Dispatcher) PublishExcept(roomID string, ev event.WsEvent, userID string) DeliveryReport {
	return d.deliver(roomID, ev, userID)
}

func (d *Dispatcher) deliver(roomID string, ev event.WsEvent, skipUser string) DeliveryReport {
	var report DeliveryReport

	// membership is read once; the registry lock is not held while sending
	for _, c := range d.rooms.MembersOf(roomID) {
		if skipUser != "" && c.UserID() == skipUser {
			continue
		}

		if c.trySend(ev) {
			report.Delivered++
			continue
		}

		report.Failed++
		if !c.isClosing() {
			c.logger.Warn("egress full, disconnecting client", zap.String("room_id", roomID))
			c.closeWith(websocket.ClosePolicyViolation, "too slow")
		}
		d.remove(c)
	}

	if report.Failed > 0 {
		d.logger.Warn("partial dispatch failure",
			zap.String("room_id", roomID),
			zap.String("event", ev.Event),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}
