package chat

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/testutil"
	"github.com/npezzotti/chatcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) *SubscriptionReconciler {
	return NewSubscriptionReconciler(testutil.TestLogger(t), new(stats.MockStatsUpdater).AllowAll())
}

func roomsOf(specs ...string) []types.Room {
	rooms := make([]types.Room, 0, len(specs))
	for i := 0; i+1 < len(specs); i += 2 {
		rooms = append(rooms, types.Room{Id: types.RoomId(specs[i]), Kind: types.RoomKind(specs[i+1])})
	}
	return rooms
}

// expectedTopics lists the destinations that must be active for rooms.
func expectedTopics(rooms []types.Room) []string {
	out := []string{}
	seen := map[types.RoomId]bool{}
	for _, r := range rooms {
		if !r.Kind.Subscribable() || seen[r.Id] {
			continue
		}
		seen[r.Id] = true
		out = append(out, topicDestination(r.Id), removalDestination(r.Id))
	}
	slices.Sort(out)
	return out
}

func TestSubscriptionReconciler_Reconcile(t *testing.T) {
	tcases := []struct {
		name     string
		initial  []types.Room
		next     []types.Room
		expected []types.RoomId
	}{
		{
			name:     "subscribes eligible rooms",
			next:     roomsOf("10", "cclass", "20", "admin", "30", "cservice"),
			expected: []types.RoomId{"10", "20"},
		},
		{
			name:     "unsubscribes rooms that left",
			initial:  roomsOf("10", "cclass", "20", "admin"),
			next:     roomsOf("20", "admin"),
			expected: []types.RoomId{"20"},
		},
		{
			name:     "empty list clears everything",
			initial:  roomsOf("10", "cclass"),
			next:     nil,
			expected: []types.RoomId{},
		},
		{
			name:     "room that became a bot room is dropped",
			initial:  roomsOf("10", "cclass"),
			next:     roomsOf("10", "cservice"),
			expected: []types.RoomId{},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReconciler(t)
			conn := newFakeConn()

			require.NoError(t, r.Reconcile(tc.initial, types.Connected, conn))
			require.NoError(t, r.Reconcile(tc.next, types.Connected, conn))

			assert.Equal(t, tc.expected, r.Subscribed())
			assert.Equal(t, expectedTopics(tc.next), conn.activeDestinations())
		})
	}
}

func TestSubscriptionReconciler_Idempotent(t *testing.T) {
	r := newTestReconciler(t)
	conn := newFakeConn()
	rooms := roomsOf("10", "cclass", "20", "admin")

	for range 3 {
		require.NoError(t, r.Reconcile(rooms, types.Connected, conn))
	}

	assert.Equal(t, 1, conn.subscribeCount("/topic/10"))
	assert.Equal(t, 1, conn.subscribeCount("/topic/remove/20"))
}

func TestSubscriptionReconciler_NotConnected(t *testing.T) {
	for _, state := range []types.ConnectionState{types.Disconnected, types.Connecting, types.Reconnecting, types.Failed} {
		t.Run(state.String(), func(t *testing.T) {
			r := newTestReconciler(t)
			conn := newFakeConn()

			require.NoError(t, r.Reconcile(roomsOf("10", "cclass"), state, conn))
			assert.Empty(t, r.Subscribed())
			assert.Empty(t, conn.activeDestinations())
		})
	}

	t.Run("nil connection", func(t *testing.T) {
		r := newTestReconciler(t)
		require.NoError(t, r.Reconcile(roomsOf("10", "cclass"), types.Connected, nil))
		assert.Empty(t, r.Subscribed())
	})
}

func TestSubscriptionReconciler_SubscribeFailure(t *testing.T) {
	r := newTestReconciler(t)
	conn := newFakeConn()
	conn.failOn["/topic/remove/20"] = errors.New("queue full")

	err := r.Reconcile(roomsOf("10", "cclass", "20", "admin"), types.Connected, conn)
	require.Error(t, err)

	assert.Equal(t, []types.RoomId{"10"}, r.Subscribed())
	assert.Equal(t, []string{"/topic/10", "/topic/remove/10"}, conn.activeDestinations())

	delete(conn.failOn, "/topic/remove/20")
	require.NoError(t, r.Reconcile(roomsOf("10", "cclass", "20", "admin"), types.Connected, conn))
	assert.Equal(t, []types.RoomId{"10", "20"}, r.Subscribed())
}

func TestSubscriptionReconciler_ResetAndResubscribe(t *testing.T) {
	r := newTestReconciler(t)
	rooms := roomsOf("10", "cclass", "20", "admin")

	first := newFakeConn()
	require.NoError(t, r.Reconcile(rooms, types.Connected, first))
	first.Close()

	r.Reset()
	assert.Empty(t, r.Subscribed())

	second := newFakeConn()
	require.NoError(t, r.Reconcile(rooms, types.Connected, second))
	assert.Equal(t, expectedTopics(rooms), second.activeDestinations())
	assert.Equal(t, 1, second.subscribeCount("/topic/10"))
}

func TestSubscriptionReconciler_Route(t *testing.T) {
	r := newTestReconciler(t)
	conn := newFakeConn()
	require.NoError(t, r.Reconcile(roomsOf("10", "cclass"), types.Connected, conn))

	var msgHandle, removalHandle string
	for id, dest := range conn.active {
		switch dest {
		case "/topic/10":
			msgHandle = id
		case "/topic/remove/10":
			removalHandle = id
		}
	}

	id, kind, ok := r.Route("/topic/10", msgHandle)
	assert.True(t, ok)
	assert.Equal(t, types.RoomId("10"), id)
	assert.Equal(t, topicMessages, kind)

	_, kind, ok = r.Route("/topic/remove/10", removalHandle)
	assert.True(t, ok)
	assert.Equal(t, topicRemoval, kind)

	_, _, ok = r.Route("/topic/10", "")
	assert.True(t, ok, "falls back to the destination")

	_, _, ok = r.Route("/topic/99", "sub-99")
	assert.False(t, ok)
}

func TestSubscriptionReconciler_RandomChurn(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	kinds := []types.RoomKind{types.RoomKindAdmin, types.RoomKindCookingClass, types.RoomKindBot}

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := newTestReconciler(t)
		conn := newFakeConn()
		state := types.Connected

		for step := 0; step < 50; step++ {
			var rooms []types.Room
			for _, id := range ids {
				if rng.Intn(2) == 0 {
					rooms = append(rooms, types.Room{Id: types.RoomId(id), Kind: kinds[rng.Intn(len(kinds))]})
				}
			}

			if rng.Intn(10) == 0 {
				conn.Close()
				r.Reset()
				conn = newFakeConn()
			}

			require.NoError(t, r.Reconcile(rooms, state, conn), "seed %d step %d", seed, step)

			active := conn.activeDestinations()
			assert.Equal(t, expectedTopics(rooms), active, "seed %d step %d", seed, step)
			assert.Len(t, r.Subscribed(), len(active)/2, "seed %d step %d", seed, step)
		}
	}
}
