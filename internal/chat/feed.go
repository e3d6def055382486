package chat

import (
	"log"
	"sync"

	"github.com/npezzotti/chatcore/internal/types"
)

const updateBufferSize = 256

type UpdateKind string

const (
	UpdateState               UpdateKind = "state"
	UpdateRooms               UpdateKind = "rooms"
	UpdateRoomRemoved         UpdateKind = "room_removed"
	UpdateMessage             UpdateKind = "message"
	UpdateNotification        UpdateKind = "notification"
	UpdateNotificationClosing UpdateKind = "notification_closing"
	UpdateNotificationRemoved UpdateKind = "notification_removed"
	UpdateError               UpdateKind = "error"
)

// Update tells a UI listener that part of the session changed. Only the
// fields relevant to Kind are set.
type Update struct {
	Kind           UpdateKind               `json:"type"`
	State          *types.ConnectionState   `json:"state,omitempty"`
	RoomId         types.RoomId             `json:"roomNo,omitempty"`
	Message        *types.Message           `json:"message,omitempty"`
	Notification   *types.NotificationEntry `json:"notification,omitempty"`
	NotificationId string                   `json:"notificationId,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// updateFeed fans updates out to listeners. A listener that falls behind
// misses updates instead of stalling the session loop.
type updateFeed struct {
	log       *log.Logger
	mu        sync.Mutex
	listeners map[chan Update]struct{}
	closed    bool
}

func newUpdateFeed(logger *log.Logger) *updateFeed {
	return &updateFeed{
		log:       logger,
		listeners: make(map[chan Update]struct{}),
	}
}

func (f *updateFeed) subscribe() (<-chan Update, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Update, updateBufferSize)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.listeners[ch] = struct{}{}

	return ch, func() { f.unsubscribe(ch) }
}

func (f *updateFeed) unsubscribe(ch chan Update) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.listeners[ch]; ok {
		delete(f.listeners, ch)
		close(ch)
	}
}

func (f *updateFeed) publish(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.listeners {
		select {
		case ch <- u:
		default:
			f.log.Printf("update listener full, dropping %s update", u.Kind)
		}
	}
}

func (f *updateFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.listeners {
		delete(f.listeners, ch)
		close(ch)
	}
}

func stateUpdate(state types.ConnectionState) Update {
	return Update{Kind: UpdateState, State: &state}
}

func messageUpdate(msg types.Message) Update {
	return Update{Kind: UpdateMessage, RoomId: msg.RoomId, Message: &msg}
}
