package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tablenorm/internal/domain"
)

// MockInferenceClient is a mock implementation of port.InferenceClient.
type MockInferenceClient struct {
	mock.Mock
}

func (m *MockInferenceClient) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
