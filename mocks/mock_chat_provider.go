package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tablenorm/internal/port"
)

// MockChatProvider is a mock implementation of port.ChatProvider.
type MockChatProvider struct {
	mock.Mock
}

func (m *MockChatProvider) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
