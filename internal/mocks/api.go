package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zjrosen/rostersync/internal/poll"
	"github.com/zjrosen/rostersync/internal/reconcile"
)

// MockReconciler is a testify mock of api.Reconciler.
type MockReconciler struct {
	mock.Mock
}

func NewMockReconciler(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockReconciler {
	m := &MockReconciler{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockReconciler) Run(ctx context.Context) (reconcile.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(reconcile.Report), args.Error(1)
}

// MockPolls is a testify mock of api.Polls.
type MockPolls struct {
	mock.Mock
}

func NewMockPolls(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPolls {
	m := &MockPolls{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPolls) Open(title string, options []string, duration time.Duration) (poll.Summary, error) {
	args := m.Called(title, options, duration)
	return args.Get(0).(poll.Summary), args.Error(1)
}

func (m *MockPolls) Vote(id, voter string, index int) error {
	return m.Called(id, voter, index).Error(0)
}

func (m *MockPolls) Result(ctx context.Context, id string, wait time.Duration) (poll.Summary, poll.Closed, bool, error) {
	args := m.Called(ctx, id, wait)
	return args.Get(0).(poll.Summary), args.Get(1).(poll.Closed), args.Bool(2), args.Error(3)
}

func (m *MockPolls) Active() []poll.Summary {
	args := m.Called()
	polls, _ := args.Get(0).([]poll.Summary)
	return polls
}
