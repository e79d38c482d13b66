package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"classroom-live-service/internal/app"
	"github.com/redis/go-redis/v9"
)

const markerTimeout = 500 * time.Millisecond

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Rooms (and their connections) live in this process; Redis only carries a
//     liveness marker per room so operators and other instances can see which
//     rooms are open.
//   - Marker writes are best-effort, bounded by markerTimeout and never made while
//     holding the room map lock, so a slow Redis never stalls joins of other rooms.
//   - A live room's marker is refreshed once half its ttl has passed.
type RoomStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
	mu     sync.RWMutex
	rooms  map[string]*app.Room

	markMu sync.Mutex
	marked map[string]time.Time
}

func NewRoomStore(client redis.UniversalClient, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		rooms:  make(map[string]*app.Room),
		marked: make(map[string]time.Time),
	}
}

func (s *RoomStore) GetOrCreate(roomID string) *app.Room {
	room := s.getOrCreate(roomID)
	s.touch(roomID)
	return room
}

func (s *RoomStore) getOrCreate(roomID string) *app.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := app.NewRoomWithClock(roomID, s.now)
	s.rooms[roomID] = room
	return room
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		s.touch(roomID)
	}
	return room, ok
}

func (s *RoomStore) DeleteIfRetired(roomID string, cutoff time.Time) bool {
	if !s.retire(roomID, cutoff) {
		return false
	}

	s.markMu.Lock()
	delete(s.marked, roomID)
	s.markMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(roomID)).Err(); err != nil {
		slog.Warn("redis: clear room marker failed", "room", roomID, "error", err)
	}
	return true
}

func (s *RoomStore) retire(roomID string, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.Retire(cutoff) {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *RoomStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// touch writes the room's marker when it was never written or is half way to expiry.
func (s *RoomStore) touch(roomID string) {
	now := s.now()
	s.markMu.Lock()
	last, ok := s.marked[roomID]
	due := !ok || (s.ttl > 0 && now.Sub(last) >= s.ttl/2)
	if due {
		s.marked[roomID] = now
	}
	s.markMu.Unlock()
	if !due {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key(roomID), now.UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		slog.Warn("redis: write room marker failed", "room", roomID, "error", err)
	}
}

func (s *RoomStore) key(roomID string) string {
	return "classroom:room:" + roomID
}
