package reconcile

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/samandartukhtayev/authentik-sync/models"
)

type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) BindIdentities(ctx context.Context, rows []models.UpdateRow) (models.BindResult, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(models.BindResult), args.Error(1)
}

func (m *MockIdentityStore) CountExisting(ctx context.Context, usernames []string) (int64, error) {
	args := m.Called(ctx, usernames)
	return args.Get(0).(int64), args.Error(1)
}

type MockDumper struct {
	mock.Mock
}

func (m *MockDumper) Dump(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type MockGate struct {
	mock.Mock
}

func (m *MockGate) ConfirmIntent(count int) (bool, error) {
	args := m.Called(count)
	return args.Bool(0), args.Error(1)
}

func (m *MockGate) ConfirmBackup() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}
