package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// MockPipelineRunner is a mock implementation of handler.PipelineRunner.
type MockPipelineRunner struct {
	mock.Mock
}

func (m *MockPipelineRunner) Run(ctx context.Context, in port.RunInput) (*domain.Summary, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Summary), args.Error(1)
}
