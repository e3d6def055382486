package chatapi

import (
	"context"

	"github.com/npezzotti/chatcore/internal/types"
	"github.com/stretchr/testify/mock"
)

var _ Backend = (*MockBackend)(nil)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetRooms(ctx context.Context, userNo int64) ([]types.Room, error) {
	args := m.Called(ctx, userNo)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) GetLastRead(ctx context.Context, userNo int64, roomId types.RoomId) (int64, error) {
	args := m.Called(ctx, userNo, roomId)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBackend) UpdateLastRead(ctx context.Context, userNo int64, roomId types.RoomId, messageId int64) error {
	args := m.Called(ctx, userNo, roomId, messageId)
	return args.Error(0)
}

func (m *MockBackend) SaveMessage(ctx context.Context, kind types.RoomKind, roomId types.RoomId, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, kind, roomId, msg)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockBackend) AskBot(ctx context.Context, userNo int64, question string) (BotReply, error) {
	args := m.Called(ctx, userNo, question)
	return args.Get(0).(BotReply), args.Error(1)
}
