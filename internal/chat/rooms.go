package chat

import (
	"slices"
	"sort"
	"time"

	"github.com/npezzotti/chatcore/internal/types"
)

// RoomStore holds the known rooms and their message logs. It is owned by
// the session loop and is not safe for concurrent use.
type RoomStore struct {
	order []types.RoomId
	rooms map[types.RoomId]*types.Room
	seen  map[types.RoomId]map[int64]struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[types.RoomId]*types.Room),
		seen:  make(map[types.RoomId]map[int64]struct{}),
	}
}

// SetRooms replaces the room list. Duplicate announcements of a room are
// coalesced: the last one wins for metadata and messages are merged by
// message id. Rooms missing from the list are dropped and returned.
func (s *RoomStore) SetRooms(rooms []types.Room) []types.RoomId {
	next := make(map[types.RoomId]struct{}, len(rooms))
	order := make([]types.RoomId, 0, len(rooms))

	for _, r := range rooms {
		if r.Id == "" {
			continue
		}
		if _, dup := next[r.Id]; !dup {
			next[r.Id] = struct{}{}
			order = append(order, r.Id)
		}

		existing, ok := s.rooms[r.Id]
		if !ok {
			existing = &types.Room{Id: r.Id, Messages: []types.Message{}}
			s.rooms[r.Id] = existing
			s.seen[r.Id] = make(map[int64]struct{})
		}

		existing.Kind = r.Kind
		existing.Title = r.Title
		existing.MemberCount = r.MemberCount
		existing.NotificationEnabled = types.BoolPtr(r.Notifies())

		for _, m := range r.Messages {
			s.Insert(r.Id, m)
		}
	}

	var removed []types.RoomId
	for _, id := range s.order {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
			delete(s.rooms, id)
			delete(s.seen, id)
		}
	}

	s.order = order
	return removed
}

func (s *RoomStore) Remove(id types.RoomId) bool {
	if _, ok := s.rooms[id]; !ok {
		return false
	}

	delete(s.rooms, id)
	delete(s.seen, id)
	s.order = slices.DeleteFunc(s.order, func(o types.RoomId) bool { return o == id })
	return true
}

// Get returns the live room. Callers must not retain it outside the loop.
func (s *RoomStore) Get(id types.RoomId) (*types.Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// Insert places msg in the room's log so that createdAt never decreases,
// regardless of arrival order. Messages whose id is already in the log
// are discarded. It reports whether the message was added.
func (s *RoomStore) Insert(id types.RoomId, msg types.Message) bool {
	r, ok := s.rooms[id]
	if !ok {
		return false
	}

	if msg.HasId() {
		if _, dup := s.seen[id][msg.MessageId]; dup {
			return false
		}
		s.seen[id][msg.MessageId] = struct{}{}
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.RoomId = id

	// equal timestamps keep arrival order
	i := sort.Search(len(r.Messages), func(i int) bool {
		return r.Messages[i].CreatedAt.After(msg.CreatedAt)
	})
	r.Messages = slices.Insert(r.Messages, i, msg)

	return true
}

// Desired returns the room metadata in list order, without messages.
func (s *RoomStore) Desired() []types.Room {
	out := make([]types.Room, 0, len(s.order))
	for _, id := range s.order {
		r := *s.rooms[id]
		r.Messages = nil
		out = append(out, r)
	}
	return out
}

// Snapshot returns a deep copy of a room.
func (s *RoomStore) Snapshot(id types.RoomId) (types.Room, bool) {
	r, ok := s.rooms[id]
	if !ok {
		return types.Room{}, false
	}

	cp := *r
	cp.Messages = slices.Clone(r.Messages)
	return cp, true
}

func (s *RoomStore) List() []types.Room {
	out := make([]types.Room, 0, len(s.order))
	for _, id := range s.order {
		r, _ := s.Snapshot(id)
		out = append(out, r)
	}
	return out
}

// NewestMessageId returns the highest server-assigned id in the room.
func (s *RoomStore) NewestMessageId(id types.RoomId) int64 {
	r, ok := s.rooms[id]
	if !ok {
		return 0
	}

	var newest int64
	for _, m := range r.Messages {
		newest = max(newest, m.MessageId)
	}
	return newest
}
