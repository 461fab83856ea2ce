package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/rpc"
)

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) SendMessage(ctx context.Context, chatID, content, ts string) (string, error) {
	args := m.Called(ctx, chatID, content, ts)
	return args.String(0), args.Error(1)
}

type FetcherMock struct {
	mock.Mock
}

func (m *FetcherMock) Fetch(ctx context.Context, path, etag string) (rpc.Resource, error) {
	args := m.Called(ctx, path, etag)
	var res rpc.Resource
	if val := args.Get(0); val != nil {
		res = val.(rpc.Resource)
	}
	return res, args.Error(1)
}

type HTTPCacheRepositoryMock struct {
	mock.Mock
}

func (m *HTTPCacheRepositoryMock) Get(ctx context.Context, path string) (models.HTTPCacheRecord, error) {
	args := m.Called(ctx, path)
	var rec models.HTTPCacheRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.HTTPCacheRecord)
	}
	return rec, args.Error(1)
}

func (m *HTTPCacheRepositoryMock) Put(ctx context.Context, rec models.HTTPCacheRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type RestrictionFetcherMock struct {
	mock.Mock
}

func (m *RestrictionFetcherMock) GetRestriction(ctx context.Context, userID string) (models.Restriction, error) {
	args := m.Called(ctx, userID)
	var r models.Restriction
	if val := args.Get(0); val != nil {
		r = val.(models.Restriction)
	}
	return r, args.Error(1)
}
