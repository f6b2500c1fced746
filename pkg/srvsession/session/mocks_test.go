package session

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Test doubles for the session boundaries. The assertions below fail to
// compile if a double drifts from the contract it stands in for.

var (
	_ ServerInterface = (*mockServerInterface)(nil)
	_ Database        = (*mockDatabase)(nil)
	_ Connection      = (*mockConnection)(nil)
	_ Counter         = (*mockCounter)(nil)
)

type mockServerInterface struct {
	mock.Mock
}

func (m *mockServerInterface) ConnectToServer(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockServerInterface) AConnectToServer(ctx context.Context) <-chan ConnectResult {
	args := m.Called(ctx)
	return args.Get(0).(<-chan ConnectResult)
}

func (m *mockServerInterface) IsServerConnected(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockServerInterface) SendMessage(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

type mockDatabase struct {
	mock.Mock
}

func (m *mockDatabase) Get(ctx context.Context) (Connection, error) {
	args := m.Called(ctx)
	conn, _ := args.Get(0).(Connection)
	return conn, args.Error(1)
}

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) Begin() error {
	return m.Called().Error(0)
}

func (m *mockConnection) Put(key string, value []byte) error {
	return m.Called(key, value).Error(0)
}

func (m *mockConnection) Commit() error {
	return m.Called().Error(0)
}

func (m *mockConnection) Close() error {
	return m.Called().Error(0)
}

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) Increment() {
	m.Called()
}

// asyncResult returns a channel already holding res, the way a boundary
// that completed immediately would.
func asyncResult(res ConnectResult) <-chan ConnectResult {
	ch := make(chan ConnectResult, 1)
	ch <- res
	close(ch)
	return ch
}

// newMockDatabase wires a database double whose Get hands out conn.
func newMockDatabase(conn *mockConnection) *mockDatabase {
	db := &mockDatabase{}
	db.On("Get", mock.Anything).Return(conn, nil)
	return db
}
