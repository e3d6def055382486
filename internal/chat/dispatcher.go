package chat

import (
	"log"

	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/types"
)

// viewer is what the dispatcher needs to know about the local user when
// deciding whether a message deserves a notification.
type viewer struct {
	userNo     int64
	activeRoom types.RoomId
	alerts     bool
}

type dispatchResult struct {
	message      types.Message
	inserted     bool
	notification *types.NotificationEntry
}

// MessageDispatcher routes decoded broker messages into room logs and
// raises notifications for the ones the user is not looking at.
type MessageDispatcher struct {
	log           *log.Logger
	stats         stats.StatsProvider
	rooms         *RoomStore
	reads         *ReadTracker
	notifications *NotificationQueue
}

func NewMessageDispatcher(logger *log.Logger, st stats.StatsProvider, rooms *RoomStore, reads *ReadTracker, notifications *NotificationQueue) *MessageDispatcher {
	return &MessageDispatcher{
		log:           logger,
		stats:         st,
		rooms:         rooms,
		reads:         reads,
		notifications: notifications,
	}
}

// Dispatch decodes body and appends it to roomId's log. The message is
// in the log before any notification for it exists.
func (d *MessageDispatcher) Dispatch(roomId types.RoomId, destination string, body []byte, v viewer) dispatchResult {
	msg, err := decodeMessage(destination, body)
	if err != nil {
		d.stats.Incr(stats.NumMalformedMessages)
		d.log.Println(err)
		return dispatchResult{}
	}

	if msg.RoomId != "" && msg.RoomId != roomId {
		d.log.Printf("message for room %s arrived on %s, filing under %s", msg.RoomId, destination, roomId)
	}
	msg.RoomId = roomId

	return d.Deliver(msg, v)
}

// Deliver appends an already decoded message.
func (d *MessageDispatcher) Deliver(msg types.Message, v viewer) dispatchResult {
	if !d.rooms.Insert(msg.RoomId, msg) {
		if _, ok := d.rooms.Get(msg.RoomId); !ok {
			d.log.Printf("dropping message for unknown room %s", msg.RoomId)
		}
		return dispatchResult{message: msg}
	}
	d.stats.Incr(stats.NumMessagesReceived)

	res := dispatchResult{message: msg, inserted: true}

	room, _ := d.rooms.Get(msg.RoomId)
	if d.shouldNotify(room, msg, v) {
		entry := d.notifications.Enqueue(msg)
		d.stats.Incr(stats.NumNotifications)
		res.notification = &entry
	}

	return res
}

func (d *MessageDispatcher) shouldNotify(room *types.Room, msg types.Message, v viewer) bool {
	switch {
	case !v.alerts:
		return false
	case !room.Notifies():
		return false
	case msg.IsSystem():
		return false
	case msg.SenderUserId == v.userNo:
		return false
	case room.Id == v.activeRoom:
		return false
	case msg.HasId() && !d.reads.IsUnread(room.Id, msg.MessageId):
		return false
	}
	return true
}
