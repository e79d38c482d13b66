package app

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"classroom-live-service/internal/domain"
)

type memberKey struct {
	name string
	role domain.Role
}

// Room is the in-memory state of one classroom session. All fields are guarded by mu,
// which is also held while fanning events out so delivery follows receipt order.
type Room struct {
	id  string
	now func() time.Time

	mu           sync.Mutex
	retired      bool
	seq          int64
	participants map[memberKey]*member
	scores       map[string]domain.ScoreboardEntry
	slide        json.RawMessage
	emptySince   time.Time
}

type member struct {
	domain.Participant
	seq int64
}

// NewRoom is exported for infrastructure layers that store rooms.
func NewRoom(id string) *Room {
	return NewRoomWithClock(id, time.Now)
}

// NewRoomWithClock allows deterministic timestamps in tests.
func NewRoomWithClock(id string, now func() time.Time) *Room {
	return &Room{
		id:           id,
		now:          now,
		participants: make(map[memberKey]*member),
		scores:       make(map[string]domain.ScoreboardEntry),
		emptySince:   now(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// join adds or replaces the (name, role) entry. It reports false when the room
// was retired concurrently and the caller must fetch a fresh one.
func (r *Room) join(p domain.Participant) (domain.Attendance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retired {
		return domain.Attendance{}, false
	}

	key := memberKey{name: p.Name, role: p.Role}
	if existing, ok := r.participants[key]; ok {
		// rejoin keeps the attendance slot, swaps the connection
		existing.Conn = p.Conn
		return r.attendanceLocked(), true
	}

	r.seq++
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	r.participants[key] = &member{Participant: p, seq: r.seq}
	return r.attendanceLocked(), true
}

// leave removes the (name, role) entry. A non-empty connID only removes the entry
// if it still belongs to that connection, so a stale socket cannot evict a rejoin.
func (r *Room) leave(name string, role domain.Role, connID string) (domain.Attendance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{name: name, role: role}
	existing, ok := r.participants[key]
	if !ok || (connID != "" && existing.ConnID() != connID) {
		return r.attendanceLocked(), false
	}
	delete(r.participants, key)
	if len(r.participants) == 0 {
		r.emptySince = r.now()
	}
	return r.attendanceLocked(), true
}

func (r *Room) isEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// IsEmpty reports whether the room has no participants.
func (r *Room) IsEmpty() bool {
	return r.isEmpty()
}

// Retire marks the room dead if it has been empty since before cutoff.
// A retired room rejects joins.
func (r *Room) Retire(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return true
	}
	if len(r.participants) > 0 || r.emptySince.After(cutoff) {
		return false
	}
	r.retired = true
	return true
}

// deliver builds one envelope under the room lock and hands it to every member
// whose connection is not exclude. It returns delivered and dropped counts.
func (r *Room) deliver(exclude string, build func(domain.Attendance) domain.Envelope) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env := build(r.attendanceLocked())
	sent, dropped := 0, 0
	for _, m := range r.orderedLocked() {
		if m.Conn == nil || (exclude != "" && m.ConnID() == exclude) {
			continue
		}
		if m.Conn.Send(env) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// sendTo delivers env to the single member holding connID.
func (r *Room) sendTo(connID string, env domain.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.participants {
		if m.Conn != nil && m.ConnID() == connID {
			return m.Conn.Send(env)
		}
	}
	return false
}

func (r *Room) member(connID string) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.participants {
		if m.ConnID() == connID {
			return m.Participant, true
		}
	}
	return domain.Participant{}, false
}

func (r *Room) setSlide(payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slide = append(json.RawMessage(nil), payload...)
}

func (r *Room) recordScore(entry domain.ScoreboardEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[entry.Name] = entry
}

func (r *Room) snapshot() domain.Sync {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Sync{
		Attendance: r.attendanceLocked(),
		Scoreboard: r.scoreboardLocked(),
		Slide:      append(json.RawMessage(nil), r.slide...),
	}
}

func (r *Room) orderedLocked() []*member {
	members := make([]*member, 0, len(r.participants))
	for _, m := range r.participants {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Role != members[j].Role {
			return members[i].Role == domain.RoleTeacher
		}
		return members[i].seq < members[j].seq
	})
	return members
}

func (r *Room) attendanceLocked() domain.Attendance {
	ordered := r.orderedLocked()
	entries := make([]domain.AttendanceEntry, 0, len(ordered))
	for _, m := range ordered {
		entries = append(entries, domain.AttendanceEntry{Name: m.Name, Role: m.Role})
	}
	return domain.Attendance{Room: r.id, Participants: entries}
}

func (r *Room) scoreboardLocked() []domain.ScoreboardEntry {
	entries := make([]domain.ScoreboardEntry, 0, len(r.scores))
	for _, e := range r.scores {
		entries = append(entries, e)
	}
	// score desc, then whoever reached it first, then name
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].GradedAt.Equal(entries[j].GradedAt) {
			return entries[i].GradedAt.Before(entries[j].GradedAt)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
