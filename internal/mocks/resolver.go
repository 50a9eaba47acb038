// Package mocks holds testify mocks for cross-package interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zjrosen/rostersync/internal/directory"
)

// MockResolver is a testify mock of directory.Resolver.
type MockResolver struct {
	mock.Mock
}

var _ directory.Resolver = (*MockResolver)(nil)

// NewMockResolver creates a MockResolver whose expectations are asserted
// when the test finishes.
func NewMockResolver(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockResolver {
	m := &MockResolver{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockResolver) Resolve(ctx context.Context, key string) (directory.Identity, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(directory.Identity), args.Error(1)
}

// MockDirectory is a testify mock of directory.Directory.
type MockDirectory struct {
	MockResolver
}

var _ directory.Directory = (*MockDirectory)(nil)

func NewMockDirectory(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDirectory {
	m := &MockDirectory{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDirectory) Presence(ctx context.Context, id int64) (directory.Presence, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(directory.Presence), args.Error(1)
}

func (m *MockDirectory) SocialCounts(ctx context.Context, id int64) (directory.SocialCounts, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(directory.SocialCounts), args.Error(1)
}

func (m *MockDirectory) Profile(ctx context.Context, key string) (directory.Profile, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(directory.Profile), args.Error(1)
}
