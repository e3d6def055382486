package chat

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/npezzotti/chatcore/internal/types"
)

const (
	topicPrefix      = "/topic/"
	removalPrefix    = "/topic/remove/"
	appPrefix        = "/app/"
	appRemovalPrefix = "/app/remove/"

	contentTypeJSON = "application/json"

	// removalNotice is the body published with a room removal request.
	removalNotice = "쿠킹 클래스 삭제"
)

func topicDestination(id types.RoomId) string {
	return topicPrefix + id.String()
}

func removalDestination(id types.RoomId) string {
	return removalPrefix + id.String()
}

func sendDestination(id types.RoomId) string {
	return appPrefix + id.String()
}

func removeRoomDestination(id types.RoomId) string {
	return appRemovalPrefix + id.String()
}

type topicKind int

const (
	topicMessages topicKind = iota
	topicRemoval
)

// parseTopic maps a broker destination back to a room.
func parseTopic(destination string) (types.RoomId, topicKind, bool) {
	if id, ok := strings.CutPrefix(destination, removalPrefix); ok && id != "" {
		return types.RoomId(id), topicRemoval, true
	}
	if id, ok := strings.CutPrefix(destination, topicPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return types.RoomId(id), topicMessages, true
	}
	return "", 0, false
}

// decodeMessage parses an inbound broker payload.
func decodeMessage(destination string, body []byte) (types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return types.Message{}, &MalformedMessageError{Destination: destination, Err: err}
	}

	if msg.Body == "" && msg.ImageId == 0 {
		return types.Message{}, &MalformedMessageError{
			Destination: destination,
			Err:         errors.New("missing content"),
		}
	}

	return msg, nil
}
