package mocks

import (
	"github.com/stretchr/testify/mock"

	"tablenorm/internal/domain"
)

// MockPromptRecorder is a mock implementation of port.PromptRecorder.
type MockPromptRecorder struct {
	mock.Mock
}

func (m *MockPromptRecorder) Record(rec domain.PromptLogRecord) (string, error) {
	args := m.Called(rec)
	return args.String(0), args.Error(1)
}

// MockPromptLogIndex is a mock implementation of port.PromptLogIndex.
type MockPromptLogIndex struct {
	mock.Mock
}

func (m *MockPromptLogIndex) Paths() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}
