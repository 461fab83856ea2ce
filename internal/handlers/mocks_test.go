package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/chat"
	"chat-sync/internal/models"
)

type SurfaceMock struct {
	mock.Mock
}

func (m *SurfaceMock) Bind(ctx context.Context, b chat.Binding) (chat.Snapshot, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(chat.Snapshot), args.Error(1)
}

func (m *SurfaceMock) Binding() (chat.Binding, bool) {
	args := m.Called()
	return args.Get(0).(chat.Binding), args.Bool(1)
}

func (m *SurfaceMock) Snapshot() (chat.Snapshot, error) {
	args := m.Called()
	return args.Get(0).(chat.Snapshot), args.Error(1)
}

func (m *SurfaceMock) LoadMore(ctx context.Context) (chat.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(chat.Snapshot), args.Error(1)
}

func (m *SurfaceMock) Send(ctx context.Context, chatID, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, content)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *SurfaceMock) OwnShard() string {
	args := m.Called()
	return args.String(0)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) Chats(ctx context.Context) ([]models.ChatSummary, error) {
	args := m.Called(ctx)
	chats, _ := args.Get(0).([]models.ChatSummary)
	return chats, args.Error(1)
}

func (m *DirectoryMock) Player(ctx context.Context, id string) (models.Player, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Player), args.Error(1)
}

func (m *DirectoryMock) Icon(ctx context.Context, iconURL string) ([]byte, error) {
	args := m.Called(ctx, iconURL)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type RestrictionsMock struct {
	mock.Mock
}

func (m *RestrictionsMock) Load(ctx context.Context, userID string) models.Restriction {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Restriction)
}

func (m *RestrictionsMock) Current() models.Restriction {
	args := m.Called()
	return args.Get(0).(models.Restriction)
}

func (m *RestrictionsMock) CanSend() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *RestrictionsMock) UserID() string {
	args := m.Called()
	return args.String(0)
}

type OutboxReaderMock struct {
	mock.Mock
}

func (m *OutboxReaderMock) Pending(ctx context.Context, chatID string) ([]models.OutboxEntry, error) {
	args := m.Called(ctx, chatID)
	entries, _ := args.Get(0).([]models.OutboxEntry)
	return entries, args.Error(1)
}
