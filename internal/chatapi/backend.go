package chatapi

import (
	"context"

	"github.com/npezzotti/chatcore/internal/types"
)

// Backend is the set of REST calls the chat session depends on.
type Backend interface {
	GetRooms(ctx context.Context, userNo int64) ([]types.Room, error)
	GetLastRead(ctx context.Context, userNo int64, roomId types.RoomId) (int64, error)
	UpdateLastRead(ctx context.Context, userNo int64, roomId types.RoomId, messageId int64) error
	SaveMessage(ctx context.Context, kind types.RoomKind, roomId types.RoomId, msg types.Message) (types.Message, error)
	AskBot(ctx context.Context, userNo int64, question string) (BotReply, error)
}

type BotReply struct {
	Answer string
	Button *types.ActionLink
}

type contextKey string

const tokenKey contextKey = "access-token"

// WithToken returns a context whose requests are authorized with token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func Token(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)

	return token, ok && token != ""
}
