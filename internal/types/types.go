package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SystemUserId is the sender of join/leave/welcome messages.
const SystemUserId int64 = 0

// RoomId identifies a room. The server sends it either as a JSON number
// or as a string, so both are accepted.
type RoomId string

func (id RoomId) String() string {
	return string(id)
}

func (id RoomId) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *RoomId) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RoomId(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	*id = RoomId(n.String())
	return nil
}

// User is the authenticated end user a session belongs to.
type User struct {
	Id       int64  `json:"userNo"`
	Username string `json:"username"`
}

type RoomKind string

const (
	RoomKindAdmin        RoomKind = "admin"
	RoomKindCookingClass RoomKind = "cclass"
	RoomKindBot          RoomKind = "cservice"
)

func (k RoomKind) Valid() bool {
	switch k {
	case RoomKindAdmin, RoomKindCookingClass, RoomKindBot:
		return true
	}
	return false
}

// Subscribable reports whether rooms of this kind receive live messages
// from the broker. Bot rooms are answered over REST instead.
func (k RoomKind) Subscribable() bool {
	return k != RoomKindBot
}

type Room struct {
	Id                  RoomId    `json:"roomNo"`
	Kind                RoomKind  `json:"type"`
	Title               string    `json:"title"`
	MemberCount         int       `json:"memberCount"`
	// NotificationEnabled is nil when the flag was not sent, which means
	// the room notifies.
	NotificationEnabled *bool     `json:"notificationEnabled,omitempty"`
	LastReadMessageId   int64     `json:"lastReadMessageNo,omitempty"`
	UnreadCount         int       `json:"unreadCount"`
	Messages            []Message `json:"messages"`
}

// Notifies reports whether new messages in the room may raise a
// notification.
func (r Room) Notifies() bool {
	return r.NotificationEnabled == nil || *r.NotificationEnabled
}

func BoolPtr(v bool) *bool {
	return &v
}

type ActionLink struct {
	LinkUrl string `json:"linkUrl"`
}

// Message is a single chat message as it travels over the broker and the
// REST API. MessageId is zero until the server assigns one.
type Message struct {
	MessageId         int64       `json:"messageNo,omitempty"`
	CorrelationId     string      `json:"clientMessageId,omitempty"`
	RoomId            RoomId      `json:"roomNo"`
	SenderUserId      int64       `json:"userNo"`
	SenderDisplayName string      `json:"username"`
	Body              string      `json:"content"`
	CreatedAt         time.Time   `json:"createdAt"`
	ImageId           int64       `json:"imageNo,omitempty"`
	ActionLink        *ActionLink `json:"button,omitempty"`
}

func (m Message) HasId() bool {
	return m.MessageId > 0
}

func (m Message) IsSystem() bool {
	return m.SenderUserId == SystemUserId
}

type messageAlias Message

type messageWire struct {
	messageAlias
	CreatedAt string `json:"createdAt,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{messageAlias: messageAlias(m)}
	if !m.CreatedAt.IsZero() {
		w.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w messageWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	*m = Message(w.messageAlias)
	m.CreatedAt = time.Time{}
	if w.CreatedAt != "" {
		ts, err := ParseTimestamp(w.CreatedAt)
		if err != nil {
			return err
		}
		m.CreatedAt = ts
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 timestamps as well as the zone-less
// local date-times some backends emit. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

type NotificationState string

const (
	NotificationVisible NotificationState = "visible"
	NotificationClosing NotificationState = "closing"
)

type NotificationEntry struct {
	Id                string            `json:"id"`
	RoomId            RoomId            `json:"roomNo"`
	MessageId         int64             `json:"messageNo,omitempty"`
	SenderDisplayName string            `json:"username"`
	Body              string            `json:"content"`
	State             NotificationState `json:"state"`
	CreatedAt         time.Time         `json:"createdAt"`
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
