package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/roach88/gpucep/internal/ir"
)

// MockProcessor is a testify mock implementing processor.Processor.
//
//	p := &testutil.MockProcessor{}
//	p.On("Install", mock.Anything, mock.Anything).Return(nil)
//	p.On("Evaluate", 0, 1, mock.Anything).Return([]ir.Derivation{d}, nil)
//	p.On("Close").Return(nil)
type MockProcessor struct {
	mock.Mock
}

// Install implements processor.Processor.
func (m *MockProcessor) Install(index int, rule *ir.RulePkt) error {
	args := m.Called(index, rule)
	return args.Error(0)
}

// Evaluate implements processor.Processor. The context is not matched.
func (m *MockProcessor) Evaluate(_ context.Context, lower, upper int, ev *ir.PubPkt) ([]ir.Derivation, error) {
	args := m.Called(lower, upper, ev)
	ds, _ := args.Get(0).([]ir.Derivation)
	return ds, args.Error(1)
}

// Close implements processor.Processor.
func (m *MockProcessor) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockPool returns n mocks that accept every install and close.
func NewMockPool(n int) []*MockProcessor {
	out := make([]*MockProcessor, n)
	for i := range out {
		m := &MockProcessor{}
		m.On("Install", mock.Anything, mock.Anything).Return(nil)
		m.On("Close").Return(nil)
		out[i] = m
	}
	return out
}
