package chat

import (
	"testing"
	"time"

	"github.com/npezzotti/chatcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func msgAt(id int64, offset time.Duration, body string) types.Message {
	return types.Message{
		MessageId:    id,
		SenderUserId: 3,
		Body:         body,
		CreatedAt:    baseTime.Add(offset),
	}
}

func bodies(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestRoomStore_Insert(t *testing.T) {
	tcases := []struct {
		name     string
		incoming []types.Message
		expected []string
	}{
		{
			name:     "in order",
			incoming: []types.Message{msgAt(1, 0, "a"), msgAt(2, time.Second, "b")},
			expected: []string{"a", "b"},
		},
		{
			name:     "late arrival is placed by timestamp",
			incoming: []types.Message{msgAt(1, 0, "a"), msgAt(3, 2*time.Second, "c"), msgAt(2, time.Second, "b")},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "equal timestamps keep arrival order",
			incoming: []types.Message{msgAt(1, 0, "a"), msgAt(2, 0, "b"), msgAt(3, 0, "c")},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "duplicate ids are dropped",
			incoming: []types.Message{msgAt(1, 0, "a"), msgAt(1, 0, "a again"), msgAt(2, time.Second, "b")},
			expected: []string{"a", "b"},
		},
		{
			name:     "messages without ids are never deduplicated",
			incoming: []types.Message{msgAt(0, 0, "q"), msgAt(0, 0, "q")},
			expected: []string{"q", "q"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewRoomStore()
			s.SetRooms([]types.Room{{Id: "10", Kind: types.RoomKindCookingClass}})

			for _, m := range tc.incoming {
				s.Insert("10", m)
			}

			room, ok := s.Snapshot("10")
			require.True(t, ok)
			assert.Equal(t, tc.expected, bodies(room.Messages))
			for _, m := range room.Messages {
				assert.Equal(t, types.RoomId("10"), m.RoomId)
			}
		})
	}
}

func TestRoomStore_InsertUnknownRoom(t *testing.T) {
	s := NewRoomStore()
	assert.False(t, s.Insert("99", msgAt(1, 0, "a")))
}

func TestRoomStore_SetRooms(t *testing.T) {
	s := NewRoomStore()
	s.SetRooms([]types.Room{
		{Id: "10", Kind: types.RoomKindCookingClass, Title: "old", Messages: []types.Message{msgAt(1, 0, "a")}},
		{Id: "20", Kind: types.RoomKindAdmin},
	})
	s.Insert("10", msgAt(2, time.Second, "b"))

	removed := s.SetRooms([]types.Room{
		{Id: "10", Kind: types.RoomKindCookingClass, Title: "first", NotificationEnabled: types.BoolPtr(false),
			Messages: []types.Message{msgAt(1, 0, "a")}},
		{Id: "30", Kind: types.RoomKindBot},
		{Id: "10", Kind: types.RoomKindCookingClass, Title: "renamed",
			Messages: []types.Message{msgAt(3, 2*time.Second, "c")}},
	})

	assert.Equal(t, []types.RoomId{"20"}, removed)

	desired := s.Desired()
	require.Len(t, desired, 2)
	assert.Equal(t, types.RoomId("10"), desired[0].Id)
	assert.Equal(t, types.RoomId("30"), desired[1].Id)
	assert.Nil(t, desired[0].Messages)

	room, ok := s.Snapshot("10")
	require.True(t, ok)
	assert.Equal(t, "renamed", room.Title)
	assert.True(t, room.Notifies(), "a room without the flag notifies")
	assert.Equal(t, []string{"a", "b", "c"}, bodies(room.Messages))
	assert.Equal(t, int64(3), s.NewestMessageId("10"))

	_, ok = s.Get("20")
	assert.False(t, ok)
}

func TestRoomStore_Remove(t *testing.T) {
	s := NewRoomStore()
	s.SetRooms([]types.Room{{Id: "10"}, {Id: "20"}})

	assert.True(t, s.Remove("10"))
	assert.False(t, s.Remove("10"))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, types.RoomId("20"), list[0].Id)
}

func TestRoomStore_SnapshotIsACopy(t *testing.T) {
	s := NewRoomStore()
	s.SetRooms([]types.Room{{Id: "10"}})
	s.Insert("10", msgAt(1, 0, "a"))

	room, _ := s.Snapshot("10")
	room.Messages[0].Body = "changed"

	again, _ := s.Snapshot("10")
	assert.Equal(t, "a", again.Messages[0].Body)
}
