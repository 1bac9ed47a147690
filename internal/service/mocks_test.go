package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"popup-runtime/internal/domain"
)

type MockDecisionRepository struct {
	mock.Mock
}

func (m *MockDecisionRepository) GetPayload(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	args := m.Called(ctx, siteID)
	if p := args.Get(0); p != nil {
		return p.(*domain.DecisionPayload), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Insert(ctx context.Context, record *domain.EventRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockEventRepository) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}
