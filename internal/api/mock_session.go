package api

import (
	"context"

	"github.com/npezzotti/chatcore/internal/chat"
	"github.com/npezzotti/chatcore/internal/types"
	"github.com/stretchr/testify/mock"
)

var _ ChatSession = (*MockChatSession)(nil)

type MockChatSession struct {
	mock.Mock
}

func (m *MockChatSession) Start(ctx context.Context, token string, user types.User) error {
	args := m.Called(ctx, token, user)
	return args.Error(0)
}

func (m *MockChatSession) Stop() {
	m.Called()
}

func (m *MockChatSession) Status(ctx context.Context) (chat.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(chat.Status), args.Error(1)
}

func (m *MockChatSession) SetNewMessageAlerts(ctx context.Context, enabled bool) error {
	args := m.Called(ctx, enabled)
	return args.Error(0)
}

func (m *MockChatSession) Rooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatSession) RefreshRooms(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockChatSession) SetRoomList(ctx context.Context, rooms []types.Room) error {
	args := m.Called(ctx, rooms)
	return args.Error(0)
}

func (m *MockChatSession) OpenRoom(ctx context.Context, roomId types.RoomId) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockChatSession) CloseRoom(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockChatSession) RemoveRoom(ctx context.Context, roomId types.RoomId) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockChatSession) Messages(ctx context.Context, roomId types.RoomId) ([]types.Message, int, error) {
	args := m.Called(ctx, roomId)
	messages, _ := args.Get(0).([]types.Message)
	return messages, args.Int(1), args.Error(2)
}

func (m *MockChatSession) SendMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error) {
	args := m.Called(ctx, roomId, body)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockChatSession) PostSystemMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error) {
	args := m.Called(ctx, roomId, body)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockChatSession) MarkRead(ctx context.Context, roomId types.RoomId, messageId int64) error {
	args := m.Called(ctx, roomId, messageId)
	return args.Error(0)
}

func (m *MockChatSession) Notifications(ctx context.Context) ([]types.NotificationEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]types.NotificationEntry)
	return entries, args.Error(1)
}

func (m *MockChatSession) CloseNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockChatSession) RemoveNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockChatSession) Updates() (<-chan chat.Update, func()) {
	args := m.Called()
	return args.Get(0).(<-chan chat.Update), args.Get(1).(func())
}
