package chat

import (
	"fmt"
	"slices"
	"time"

	"github.com/teris-io/shortid"

	"github.com/npezzotti/chatcore/internal/types"
)

const imageNotificationBody = "사진을 보냈습니다."

// NotificationQueue is the ordered list of pending notifications. Entries
// are only dismissed by the user or the optional auto-close timer. It is
// owned by the session loop.
type NotificationQueue struct {
	entries []types.NotificationEntry
	newId   func() (string, error)
	now     func() time.Time
	seq     int
}

func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{
		newId: shortid.Generate,
		now:   time.Now,
	}
}

// Enqueue appends a visible notification for msg and returns it.
func (q *NotificationQueue) Enqueue(msg types.Message) types.NotificationEntry {
	body := msg.Body
	if msg.ImageId != 0 {
		body = imageNotificationBody
	}

	entry := types.NotificationEntry{
		Id:                q.uniqueId(),
		RoomId:            msg.RoomId,
		MessageId:         msg.MessageId,
		SenderDisplayName: msg.SenderDisplayName,
		Body:              body,
		State:             types.NotificationVisible,
		CreatedAt:         q.now().UTC(),
	}
	q.entries = append(q.entries, entry)
	return entry
}

func (q *NotificationQueue) uniqueId() string {
	for range 3 {
		id, err := q.newId()
		if err == nil && q.index(id) < 0 {
			return id
		}
	}

	q.seq++
	return fmt.Sprintf("n%d-%d", q.now().UnixNano(), q.seq)
}

func (q *NotificationQueue) index(id string) int {
	return slices.IndexFunc(q.entries, func(e types.NotificationEntry) bool {
		return e.Id == id
	})
}

// StartClosing marks an entry as closing so the UI can animate it out.
// It reports false if the entry is missing or already closing.
func (q *NotificationQueue) StartClosing(id string) bool {
	i := q.index(id)
	if i < 0 || q.entries[i].State == types.NotificationClosing {
		return false
	}

	q.entries[i].State = types.NotificationClosing
	return true
}

func (q *NotificationQueue) Has(id string) bool {
	return q.index(id) >= 0
}

func (q *NotificationQueue) Remove(id string) bool {
	i := q.index(id)
	if i < 0 {
		return false
	}

	q.entries = slices.Delete(q.entries, i, i+1)
	return true
}

// RemoveRoom drops every entry that belongs to a removed room.
func (q *NotificationQueue) RemoveRoom(roomId types.RoomId) int {
	before := len(q.entries)
	q.entries = slices.DeleteFunc(q.entries, func(e types.NotificationEntry) bool {
		return e.RoomId == roomId
	})
	return before - len(q.entries)
}

func (q *NotificationQueue) List() []types.NotificationEntry {
	return slices.Clone(q.entries)
}

func (q *NotificationQueue) Len() int {
	return len(q.entries)
}

func (q *NotificationQueue) Clear() {
	q.entries = nil
}
