package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tablenorm/internal/port"
)

// MockTableExtractor is a mock implementation of port.TableExtractor.
type MockTableExtractor struct {
	mock.Mock
}

func (m *MockTableExtractor) Extract(ctx context.Context, input port.ExtractInput) (*port.Extraction, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.Extraction), args.Error(1)
}
