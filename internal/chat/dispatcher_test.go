package chat

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/testutil"
	"github.com/npezzotti/chatcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	dispatcher    *MessageDispatcher
	rooms         *RoomStore
	reads         *ReadTracker
	notifications *NotificationQueue
	stats         *stats.MockStatsUpdater
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	f := &dispatcherFixture{
		rooms:         NewRoomStore(),
		notifications: NewNotificationQueue(),
		stats:         new(stats.MockStatsUpdater),
	}
	f.reads = NewReadTracker(testutil.TestLogger(t), f.stats, newRecordingPersister().persist, func(error) {}, 0)
	t.Cleanup(f.reads.Close)
	f.dispatcher = NewMessageDispatcher(testutil.TestLogger(t), f.stats, f.rooms, f.reads, f.notifications)

	f.rooms.SetRooms([]types.Room{
		{Id: "10", Kind: types.RoomKindCookingClass, NotificationEnabled: types.BoolPtr(true)},
		{Id: "20", Kind: types.RoomKindAdmin, NotificationEnabled: types.BoolPtr(false)},
	})
	return f
}

func payload(t *testing.T, msg types.Message) []byte {
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestMessageDispatcher_Notify(t *testing.T) {
	me := viewer{userNo: 7, alerts: true}
	fromKim := func(room types.RoomId, id int64) types.Message {
		return types.Message{MessageId: id, RoomId: room, SenderUserId: 3, SenderDisplayName: "kim", Body: "hi", CreatedAt: baseTime}
	}

	tcases := []struct {
		name     string
		msg      types.Message
		viewer   viewer
		lastRead int64
		notify   bool
	}{
		{name: "other user in background room", msg: fromKim("10", 5), viewer: me, notify: true},
		{name: "own message", msg: types.Message{MessageId: 5, SenderUserId: 7, Body: "hi", CreatedAt: baseTime}, viewer: me},
		{name: "system message", msg: types.Message{MessageId: 5, SenderUserId: types.SystemUserId, Body: "kim joined", CreatedAt: baseTime}, viewer: me},
		{name: "active room", msg: fromKim("10", 5), viewer: viewer{userNo: 7, activeRoom: "10", alerts: true}},
		{name: "room muted", msg: fromKim("20", 5), viewer: me},
		{name: "alerts off", msg: fromKim("10", 5), viewer: viewer{userNo: 7}},
		{name: "already read elsewhere", msg: fromKim("10", 5), viewer: me, lastRead: 9},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			f.stats.AllowAll()

			room := tc.msg.RoomId
			if room == "" {
				room = "10"
			}
			if tc.lastRead > 0 {
				f.reads.Sync(room, tc.lastRead)
			}

			res := f.dispatcher.Dispatch(room, topicDestination(room), payload(t, tc.msg), tc.viewer)

			assert.True(t, res.inserted)
			snapshot, _ := f.rooms.Snapshot(room)
			assert.Len(t, snapshot.Messages, 1)

			if tc.notify {
				require.NotNil(t, res.notification)
				assert.Equal(t, "kim", res.notification.SenderDisplayName)
				assert.Equal(t, room, res.notification.RoomId)
				assert.Equal(t, 1, f.notifications.Len())
			} else {
				assert.Nil(t, res.notification)
				assert.Zero(t, f.notifications.Len())
			}
		})
	}
}

func TestMessageDispatcher_Duplicate(t *testing.T) {
	f := newDispatcherFixture(t)
	f.stats.On("Incr", stats.NumMessagesReceived).Once()
	f.stats.On("Incr", stats.NumNotifications).Once()

	body := payload(t, types.Message{MessageId: 5, SenderUserId: 3, Body: "hi", CreatedAt: baseTime})
	v := viewer{userNo: 7, alerts: true}

	first := f.dispatcher.Dispatch("10", "/topic/10", body, v)
	second := f.dispatcher.Dispatch("10", "/topic/10", body, v)

	assert.True(t, first.inserted)
	assert.False(t, second.inserted)
	assert.Nil(t, second.notification)
	assert.Equal(t, 1, f.notifications.Len())
	f.stats.AssertExpectations(t)
}

func TestMessageDispatcher_Malformed(t *testing.T) {
	f := newDispatcherFixture(t)
	f.stats.On("Incr", stats.NumMalformedMessages).Once()

	res := f.dispatcher.Dispatch("10", "/topic/10", []byte(`{"content":`), viewer{userNo: 7, alerts: true})

	assert.False(t, res.inserted)
	snapshot, _ := f.rooms.Snapshot("10")
	assert.Empty(t, snapshot.Messages)
	f.stats.AssertExpectations(t)
	f.stats.AssertNotCalled(t, "Incr", stats.NumMessagesReceived)
}

func TestMessageDispatcher_UnknownRoom(t *testing.T) {
	f := newDispatcherFixture(t)
	f.stats.On("Incr", mock.Anything).Maybe()

	res := f.dispatcher.Dispatch("99", "/topic/99", payload(t, types.Message{MessageId: 1, SenderUserId: 3, Body: "hi"}), viewer{userNo: 7, alerts: true})

	assert.False(t, res.inserted)
	assert.Zero(t, f.notifications.Len())
}

func TestMessageDispatcher_RoomFromSubscription(t *testing.T) {
	f := newDispatcherFixture(t)
	f.stats.AllowAll()

	msg := types.Message{MessageId: 1, RoomId: "20", SenderUserId: 3, Body: "hi", CreatedAt: baseTime}
	res := f.dispatcher.Dispatch("10", "/topic/10", payload(t, msg), viewer{userNo: 7})

	assert.True(t, res.inserted)
	assert.Equal(t, types.RoomId("10"), res.message.RoomId)
}

func TestMessageDispatcher_NotificationFlag(t *testing.T) {
	tcases := []struct {
		name   string
		flag   *bool
		notify bool
	}{
		{name: "flag absent", flag: nil, notify: true},
		{name: "enabled", flag: types.BoolPtr(true), notify: true},
		{name: "disabled", flag: types.BoolPtr(false), notify: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			f.stats.On("Incr", mock.Anything).Maybe()
			f.rooms.SetRooms([]types.Room{{Id: "30", Kind: types.RoomKindCookingClass, NotificationEnabled: tc.flag}})

			res := f.dispatcher.Deliver(types.Message{MessageId: 1, RoomId: "30", SenderUserId: 3, Body: "hi", CreatedAt: baseTime}, viewer{userNo: 7, alerts: true})

			assert.True(t, res.inserted)
			assert.Equal(t, tc.notify, res.notification != nil)
		})
	}
}
