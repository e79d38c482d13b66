package app

import (
	"encoding/json"
	"time"

	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/telemetry"
)

// RoomRepository abstracts where live rooms are kept (in-memory, Redis-marked, etc).
type RoomRepository interface {
	GetOrCreate(roomID string) *Room
	Get(roomID string) (*Room, bool)
	// DeleteIfRetired drops the room when it retires against cutoff and reports whether it did.
	DeleteIfRetired(roomID string, cutoff time.Time) bool
	IDs() []string
}

// Registry owns room membership. No other component mutates participants.
type Registry struct {
	rooms RoomRepository
}

func NewRegistry(rooms RoomRepository) *Registry {
	return &Registry{rooms: rooms}
}

// Join admits p into roomID, creating the room on first access. A second join with the
// same (name, role) replaces the stored connection instead of adding an entry.
func (r *Registry) Join(roomID string, p domain.Participant) domain.Attendance {
	for {
		room := r.rooms.GetOrCreate(roomID)
		if attendance, ok := room.join(p); ok {
			telemetry.RoomsActive.Set(float64(len(r.rooms.IDs())))
			return attendance
		}
	}
}

// Leave removes (name, role) from roomID. Unknown rooms and members are a no-op.
// connID, when set, must match the stored connection.
func (r *Registry) Leave(roomID, name string, role domain.Role, connID string) (domain.Attendance, bool) {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return domain.Attendance{Room: roomID, Participants: []domain.AttendanceEntry{}}, false
	}
	return room.leave(name, role, connID)
}

// Attendance returns the current attendance list of roomID.
func (r *Registry) Attendance(roomID string) domain.Attendance {
	return r.Snapshot(roomID).Attendance
}

// Snapshot returns attendance, scoreboard and last slide of roomID.
func (r *Registry) Snapshot(roomID string) domain.Sync {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return domain.Sync{
			Attendance: domain.Attendance{Room: roomID, Participants: []domain.AttendanceEntry{}},
			Scoreboard: []domain.ScoreboardEntry{},
		}
	}
	return room.snapshot()
}

// Member looks up the participant behind connID in roomID.
func (r *Registry) Member(roomID, connID string) (domain.Participant, bool) {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return domain.Participant{}, false
	}
	return room.member(connID)
}

// Deliver fans an envelope out to roomID, skipping the connection named by exclude.
func (r *Registry) Deliver(roomID, exclude string, build func(domain.Attendance) domain.Envelope) (int, int) {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return 0, 0
	}
	return room.deliver(exclude, build)
}

// SendTo delivers env to one connection of roomID. It reports false if the connection is gone.
func (r *Registry) SendTo(roomID, connID string, env domain.Envelope) bool {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return false
	}
	return room.sendTo(connID, env)
}

// RememberSlide keeps the last slide payload relayed in roomID for late joiners.
func (r *Registry) RememberSlide(roomID string, payload json.RawMessage) {
	if room, ok := r.rooms.Get(roomID); ok {
		room.setSlide(payload)
	}
}

// RecordScore updates the live scoreboard of roomID.
func (r *Registry) RecordScore(roomID string, entry domain.ScoreboardEntry) {
	if room, ok := r.rooms.Get(roomID); ok {
		room.recordScore(entry)
	}
}

// Occupied reports whether roomID has at least one participant.
func (r *Registry) Occupied(roomID string) bool {
	room, ok := r.rooms.Get(roomID)
	return ok && !room.IsEmpty()
}

// Sweep reclaims rooms that have been empty since before cutoff and returns their ids.
func (r *Registry) Sweep(cutoff time.Time) []string {
	var reclaimed []string
	for _, id := range r.rooms.IDs() {
		if r.rooms.DeleteIfRetired(id, cutoff) {
			reclaimed = append(reclaimed, id)
		}
	}
	telemetry.RoomsActive.Set(float64(len(r.rooms.IDs())))
	return reclaimed
}
