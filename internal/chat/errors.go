package chat

import (
	"errors"
	"fmt"

	"github.com/npezzotti/chatcore/internal/types"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotConnected      = errors.New("not connected to broker")
	ErrRoomNotFound      = errors.New("room not found")
	ErrSessionClosed     = errors.New("chat session closed")
	ErrEmptyMessage      = errors.New("message body is empty")
)

// SendError reports a message that could not be handed to the broker or
// the bot. The caller should show the message as unsent.
type SendError struct {
	RoomId types.RoomId
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to room %s: %v", e.RoomId, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed REST write. Local state is kept as is
// and nothing is retried.
type PersistenceError struct {
	Op        string
	RoomId    types.RoomId
	MessageId int64
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.MessageId > 0 {
		return fmt.Sprintf("%s (room %s, message %d): %v", e.Op, e.RoomId, e.MessageId, e.Err)
	}
	return fmt.Sprintf("%s (room %s): %v", e.Op, e.RoomId, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type MalformedMessageError struct {
	Destination string
	Err         error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message on %s: %v", e.Destination, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// TransportError is a broker connect or keepalive failure. It never leaves
// the ConnectionManager.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
