package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// MockTableNormalizer is a mock implementation of port.TableNormalizer.
type MockTableNormalizer struct {
	mock.Mock
}

func (m *MockTableNormalizer) Normalize(ctx context.Context, table domain.RawTable, docCtx domain.DocumentContext) (*port.NormalizeResult, error) {
	args := m.Called(ctx, table, docCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.NormalizeResult), args.Error(1)
}

// MockTableValidator is a mock implementation of port.TableValidator.
type MockTableValidator struct {
	mock.Mock
}

func (m *MockTableValidator) Validate(ctx context.Context, rows []domain.NormalizedRow, rowsPerTable map[string]int) (*domain.ValidationReport, error) {
	args := m.Called(ctx, rows, rowsPerTable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ValidationReport), args.Error(1)
}
