package app

import (
	"log/slog"

	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/telemetry"
)

// excludeSender lists, per event kind, whether the sender is left out of the fan-out.
var excludeSender = map[domain.EventKind]bool{
	domain.EventAttendance:  false,
	domain.EventChat:        false,
	domain.EventQuizStart:   true,
	domain.EventScoreUpdate: false,
	domain.EventCamera:      true,
	domain.EventSlide:       true,
}

// Coordinator routes outbound events to room members.
type Coordinator struct {
	registry *Registry
}

func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{registry: registry}
}

// Publish relays payload to roomID using the routing rule of kind.
func (c *Coordinator) Publish(roomID string, kind domain.EventKind, payload any, senderConnID string) int {
	return c.Relay(roomID, kind, payload, senderConnID, excludeSender[kind])
}

// Relay sends payload to every member of roomID, skipping the sender when excludeSelf is set.
func (c *Coordinator) Relay(roomID string, kind domain.EventKind, payload any, senderConnID string, excludeSelf bool) int {
	exclude := ""
	if excludeSelf {
		exclude = senderConnID
	}
	sent, dropped := c.registry.Deliver(roomID, exclude, func(domain.Attendance) domain.Envelope {
		return domain.Envelope{Type: kind, Room: roomID, Payload: payload}
	})
	c.account(roomID, kind, sent, dropped)
	return sent
}

// AnnounceAttendance broadcasts the attendance list as it is at delivery time.
func (c *Coordinator) AnnounceAttendance(roomID string) int {
	sent, dropped := c.registry.Deliver(roomID, "", func(a domain.Attendance) domain.Envelope {
		return domain.Envelope{Type: domain.EventAttendance, Room: roomID, Payload: a}
	})
	c.account(roomID, domain.EventAttendance, sent, dropped)
	return sent
}

// SendTo delivers a private event to one connection.
func (c *Coordinator) SendTo(roomID, connID string, kind domain.EventKind, payload any) bool {
	ok := c.registry.SendTo(roomID, connID, domain.Envelope{Type: kind, Room: roomID, Payload: payload})
	if !ok {
		telemetry.EventsDropped.WithLabelValues("recipient_gone").Inc()
	}
	return ok
}

func (c *Coordinator) account(roomID string, kind domain.EventKind, sent, dropped int) {
	telemetry.EventsRelayed.WithLabelValues(string(kind)).Add(float64(sent))
	if dropped > 0 {
		telemetry.EventsDropped.WithLabelValues("buffer_full").Add(float64(dropped))
		slog.Warn("broadcast: dropped events for slow connections",
			"room", roomID, "event", kind, "dropped", dropped)
	}
}
