package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomId_UnmarshalJSON(t *testing.T) {
	tcases := []struct {
		name     string
		input    string
		expected RoomId
		err      bool
	}{
		{name: "number", input: `10`, expected: "10"},
		{name: "string", input: `"a-1"`, expected: "a-1"},
		{name: "numeric string", input: `"10"`, expected: "10"},
		{name: "null", input: `null`, expected: ""},
		{name: "object", input: `{}`, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var id RoomId
			err := json.Unmarshal([]byte(tc.input), &id)
			if tc.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestRoomId_MarshalJSON(t *testing.T) {
	b, err := json.Marshal([]RoomId{"10", "a-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `[10, "a-1"]`, string(b))
}

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2025, 3, 1, 9, 30, 15, 0, time.UTC)

	tcases := []struct {
		name  string
		input string
		err   bool
	}{
		{name: "rfc3339", input: "2025-03-01T09:30:15Z"},
		{name: "local date-time", input: "2025-03-01T09:30:15"},
		{name: "space separated", input: "2025-03-01 09:30:15"},
		{name: "garbage", input: "yesterday", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tc.input)
			if tc.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, expected.Equal(ts), "got %s", ts)
		})
	}
}

func TestMessage_UnmarshalJSON(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{
		"messageNo": 42,
		"roomNo": 10,
		"userNo": 3,
		"username": "lee",
		"content": "hello",
		"createdAt": "2025-03-01T09:30:15",
		"button": {"linkUrl": "/classes/10"}
	}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, int64(42), msg.MessageId)
	assert.Equal(t, RoomId("10"), msg.RoomId)
	assert.Equal(t, "lee", msg.SenderDisplayName)
	assert.True(t, msg.HasId())
	assert.False(t, msg.IsSystem())
	require.NotNil(t, msg.ActionLink)
	assert.Equal(t, "/classes/10", msg.ActionLink.LinkUrl)
	assert.True(t, time.Date(2025, 3, 1, 9, 30, 15, 0, time.UTC).Equal(msg.CreatedAt))
}

func TestMessage_MarshalJSON(t *testing.T) {
	t.Run("pending message omits server fields", func(t *testing.T) {
		b, err := json.Marshal(Message{CorrelationId: "c-1", RoomId: "10", SenderUserId: 7, Body: "hi"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"clientMessageId": "c-1", "roomNo": 10, "userNo": 7, "username": "", "content": "hi"}`, string(b))
	})

	t.Run("timestamp in utc", func(t *testing.T) {
		kst := time.FixedZone("KST", 9*60*60)
		b, err := json.Marshal(Message{MessageId: 1, RoomId: "10", CreatedAt: time.Date(2025, 3, 1, 18, 0, 0, 0, kst)})
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(b, &raw))
		assert.Equal(t, "2025-03-01T09:00:00Z", raw["createdAt"])
	})
}

func TestMessage_IsSystem(t *testing.T) {
	assert.True(t, Message{SenderUserId: SystemUserId, Body: "lee joined"}.IsSystem())
	assert.False(t, Message{SenderUserId: 3}.IsSystem())
}

func TestRoomKind(t *testing.T) {
	tcases := []struct {
		kind         RoomKind
		valid        bool
		subscribable bool
	}{
		{kind: RoomKindAdmin, valid: true, subscribable: true},
		{kind: RoomKindCookingClass, valid: true, subscribable: true},
		{kind: RoomKindBot, valid: true, subscribable: false},
		{kind: "group", valid: false, subscribable: true},
	}

	for _, tc := range tcases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.kind.Valid())
			assert.Equal(t, tc.subscribable, tc.kind.Subscribable())
		})
	}
}

func TestConnectionState_MarshalText(t *testing.T) {
	b, err := json.Marshal(map[string]ConnectionState{"state": Reconnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state": "reconnecting"}`, string(b))
}

func TestRoom_Notifies(t *testing.T) {
	tcases := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "flag absent", input: `{"roomNo": 10, "type": "cclass"}`, expected: true},
		{name: "flag null", input: `{"roomNo": 10, "type": "cclass", "notificationEnabled": null}`, expected: true},
		{name: "enabled", input: `{"roomNo": 10, "type": "cclass", "notificationEnabled": true}`, expected: true},
		{name: "disabled", input: `{"roomNo": 10, "type": "cclass", "notificationEnabled": false}`, expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var room Room
			require.NoError(t, json.Unmarshal([]byte(tc.input), &room))
			assert.Equal(t, tc.expected, room.Notifies())
		})
	}

	assert.True(t, Room{}.Notifies(), "zero value notifies")
}
