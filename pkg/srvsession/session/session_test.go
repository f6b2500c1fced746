package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	iface := &mockServerInterface{}
	s := New(iface)

	assert.NotEmpty(t, s.ID())
	assert.False(t, s.Connected())
	assert.Equal(t, 0, s.ActiveConnections())
	assert.Equal(t, StateNotConnected, s.State())
	assert.Equal(t, DefaultPollInterval, s.pollInterval)
	assert.NotNil(t, s.logger)

	s2 := New(iface, WithPollInterval(0), WithLogger(nil))
	assert.Equal(t, DefaultPollInterval, s2.pollInterval)
	assert.NotNil(t, s2.logger)
	assert.NotEqual(t, s.ID(), s2.ID())
}

func TestConnect_ReturnsServerOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result bool
	}{
		{name: "server accepts", result: true},
		{name: "server declines", result: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface := &mockServerInterface{}
			iface.On("ConnectToServer", mock.Anything).Return(tt.result, nil).Once()
			s := New(iface, WithIgnoreConnectionErrors(true))

			connected, err := s.Connect(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.result, connected)
			assert.Equal(t, tt.result, s.Connected())
			iface.AssertExpectations(t)
		})
	}
}

func TestConnect_CountsAttempts(t *testing.T) {
	iface := &mockServerInterface{}
	iface.On("ConnectToServer", mock.Anything).Return(true, nil)
	s := New(iface)

	for i := 0; i < 3; i++ {
		_, err := s.Connect(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.ActiveConnections())
	iface.AssertNumberOfCalls(t, "ConnectToServer", 3)
}

func TestConnect_CounterIncrementsOnlyOnSuccess(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		iface := &mockServerInterface{}
		iface.On("ConnectToServer", mock.Anything).Return(true, nil).Once()
		counter := &mockCounter{}
		counter.On("Increment").Return().Once()
		s := New(iface, WithCounter(counter))

		connected, err := s.Connect(context.Background())

		require.NoError(t, err)
		assert.True(t, connected)
		iface.AssertExpectations(t)
		counter.AssertExpectations(t)
	})

	t.Run("failure", func(t *testing.T) {
		iface := &mockServerInterface{}
		iface.On("ConnectToServer", mock.Anything).Return(false, nil).Once()
		counter := &mockCounter{}
		s := New(iface, WithCounter(counter), WithIgnoreConnectionErrors(true))

		connected, err := s.Connect(context.Background())

		require.NoError(t, err)
		assert.False(t, connected)
		counter.AssertNotCalled(t, "Increment")
	})
}

func TestConnect_StrictFailureReturnsSessionError(t *testing.T) {
	iface := &mockServerInterface{}
	iface.On("ConnectToServer", mock.Anything).Return(false, nil).Once()
	s := New(iface)

	connected, err := s.Connect(context.Background())

	require.Error(t, err)
	assert.False(t, connected)
	assert.EqualError(t, err, "Failed to connect to server")
	assert.True(t, IsConnectFailed(err))
	iface.AssertExpectations(t)
}

func TestConnect_ConnectionErrorIgnored(t *testing.T) {
	iface := &mockServerInterface{}
	cause := errors.Join(ErrConnection, errors.New("dial tcp: connection refused"))
	iface.On("ConnectToServer", mock.Anything).Return(false, cause).Once()
	s := New(iface)
	s.SetIgnoreConnectionErrors(true)

	connected, err := s.Connect(context.Background())

	assert.NoError(t, err)
	assert.False(t, connected)
	assert.False(t, s.Connected())
	iface.AssertExpectations(t)
}

func TestConnect_ConnectionErrorEscalated(t *testing.T) {
	iface := &mockServerInterface{}
	cause := errors.Join(ErrConnection, errors.New("dial tcp: connection refused"))
	// A true outcome alongside a connectivity error still counts as a failure.
	iface.On("ConnectToServer", mock.Anything).Return(true, cause).Once()
	counter := &mockCounter{}
	s := New(iface, WithCounter(counter))

	connected, err := s.Connect(context.Background())

	require.Error(t, err)
	assert.False(t, connected)
	assert.False(t, s.Connected())
	assert.EqualError(t, err, "Failed to connect to server")
	assert.ErrorIs(t, err, ErrConnection)
	counter.AssertNotCalled(t, "Increment")
}

func TestConnect_OtherErrorsPropagate(t *testing.T) {
	iface := &mockServerInterface{}
	boom := errors.New("authentication failed")
	iface.On("ConnectToServer", mock.Anything).Return(false, boom).Once()
	s := New(iface, WithIgnoreConnectionErrors(true))

	connected, err := s.Connect(context.Background())

	assert.False(t, connected)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsConnectFailed(err))
}

func TestConnect_DatabaseTransaction(t *testing.T) {
	var order []string
	conn := &mockConnection{}
	conn.On("Begin").Return(nil).Once().Run(func(mock.Arguments) { order = append(order, "begin") })
	conn.On("Put", mock.AnythingOfType("string"), mock.Anything).Return(nil).Once().
		Run(func(mock.Arguments) { order = append(order, "put") })
	conn.On("Commit").Return(nil).Once().Run(func(mock.Arguments) { order = append(order, "commit") })
	conn.On("Close").Return(nil).Once().Run(func(mock.Arguments) { order = append(order, "close") })
	db := newMockDatabase(conn)

	iface := &mockServerInterface{}
	iface.On("ConnectToServer", mock.Anything).Return(true, nil).Once().
		Run(func(mock.Arguments) { order = append(order, "connect") })
	counter := &mockCounter{}
	counter.On("Increment").Return().Once()

	s := New(iface, WithDatabase(db), WithCounter(counter))

	connected, err := s.Connect(context.Background())

	require.NoError(t, err)
	assert.True(t, connected)
	assert.Equal(t, []string{"begin", "put", "commit", "close", "connect"}, order)
	conn.AssertExpectations(t)
	db.AssertNumberOfCalls(t, "Get", 1)
	counter.AssertExpectations(t)
}

func TestConnect_RecordKeyCarriesSessionAndAttempt(t *testing.T) {
	conn := &mockConnection{}
	conn.On("Begin").Return(nil)
	conn.On("Put", mock.AnythingOfType("string"), mock.Anything).Return(nil)
	conn.On("Commit").Return(nil)
	conn.On("Close").Return(nil)
	iface := &mockServerInterface{}
	iface.On("ConnectToServer", mock.Anything).Return(true, nil)

	s := New(iface, WithDatabase(newMockDatabase(conn)))
	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	_, err = s.Connect(context.Background())
	require.NoError(t, err)

	conn.AssertCalled(t, "Put", s.ID()+"/1", mock.Anything)
	conn.AssertCalled(t, "Put", s.ID()+"/2", mock.Anything)
	conn.AssertNumberOfCalls(t, "Close", 2)
}

func TestConnect_DatabaseFailures(t *testing.T) {
	boom := errors.New("disk full")

	tests := []struct {
		name    string
		setup   func(conn *mockConnection)
		wantErr string
	}{
		{
			name: "begin fails",
			setup: func(conn *mockConnection) {
				conn.On("Begin").Return(boom).Once()
				conn.On("Close").Return(nil).Once()
			},
			wantErr: "begin transaction",
		},
		{
			name: "put fails",
			setup: func(conn *mockConnection) {
				conn.On("Begin").Return(nil).Once()
				conn.On("Put", mock.Anything, mock.Anything).Return(boom).Once()
				conn.On("Close").Return(nil).Once()
			},
			wantErr: "write connect record",
		},
		{
			name: "commit fails",
			setup: func(conn *mockConnection) {
				conn.On("Begin").Return(nil).Once()
				conn.On("Put", mock.Anything, mock.Anything).Return(nil).Once()
				conn.On("Commit").Return(boom).Once()
				conn.On("Close").Return(nil).Once()
			},
			wantErr: "commit transaction",
		},
		{
			name: "close fails",
			setup: func(conn *mockConnection) {
				conn.On("Begin").Return(nil).Once()
				conn.On("Put", mock.Anything, mock.Anything).Return(nil).Once()
				conn.On("Commit").Return(nil).Once()
				conn.On("Close").Return(boom).Once()
			},
			wantErr: "release database connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockConnection{}
			tt.setup(conn)
			iface := &mockServerInterface{}
			s := New(iface, WithDatabase(newMockDatabase(conn)))

			connected, err := s.Connect(context.Background())

			assert.False(t, connected)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, boom)
			iface.AssertNotCalled(t, "ConnectToServer", mock.Anything)
			conn.AssertNumberOfCalls(t, "Close", 1)
			conn.AssertExpectations(t)
		})
	}
}

func TestConnect_DatabaseGetFails(t *testing.T) {
	boom := errors.New("database closed")
	db := &mockDatabase{}
	db.On("Get", mock.Anything).Return(nil, boom).Once()
	iface := &mockServerInterface{}
	s := New(iface, WithDatabase(db))

	connected, err := s.Connect(context.Background())

	assert.False(t, connected)
	assert.ErrorIs(t, err, boom)
	iface.AssertNotCalled(t, "ConnectToServer", mock.Anything)
}

func TestAConnect(t *testing.T) {
	tests := []struct {
		name          string
		result        ConnectResult
		ignore        bool
		wantConnected bool
		wantErr       bool
	}{
		{
			name:          "connected",
			result:        ConnectResult{Connected: true},
			wantConnected: true,
		},
		{
			name:    "declined strict",
			result:  ConnectResult{Connected: false},
			wantErr: true,
		},
		{
			name:   "declined ignored",
			result: ConnectResult{Connected: false},
			ignore: true,
		},
		{
			name:   "connection error ignored",
			result: ConnectResult{Err: ErrConnection},
			ignore: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface := &mockServerInterface{}
			iface.On("AConnectToServer", mock.Anything).Return(asyncResult(tt.result)).Once()
			counter := &mockCounter{}
			counter.On("Increment").Return().Maybe()
			s := New(iface, WithCounter(counter), WithIgnoreConnectionErrors(tt.ignore))

			res, ok := <-s.AConnect(context.Background())

			require.True(t, ok)
			assert.Equal(t, tt.wantConnected, res.Connected)
			assert.Equal(t, tt.wantConnected, s.Connected())
			if tt.wantErr {
				assert.True(t, IsConnectFailed(res.Err))
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, 1, s.ActiveConnections())
			if tt.wantConnected {
				counter.AssertNumberOfCalls(t, "Increment", 1)
			} else {
				counter.AssertNotCalled(t, "Increment")
			}
			iface.AssertExpectations(t)
			iface.AssertNotCalled(t, "ConnectToServer", mock.Anything)
		})
	}
}

func TestAConnect_ChannelClosedAfterResult(t *testing.T) {
	iface := &mockServerInterface{}
	iface.On("AConnectToServer", mock.Anything).Return(asyncResult(ConnectResult{Connected: true})).Once()
	s := New(iface)

	ch := s.AConnect(context.Background())
	<-ch
	_, ok := <-ch

	assert.False(t, ok)
}

func TestAConnect_ContextCanceled(t *testing.T) {
	pending := make(chan ConnectResult)
	iface := &mockServerInterface{}
	iface.On("AConnectToServer", mock.Anything).Return((<-chan ConnectResult)(pending)).Once()
	s := New(iface)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.AConnect(ctx)
	cancel()

	select {
	case res := <-ch:
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.False(t, res.Connected)
	case <-time.After(time.Second):
		t.Fatal("AConnect did not return after cancellation")
	}
	assert.False(t, s.Connected())
}

func TestAConnect_ContextCanceledDrainsLateResult(t *testing.T) {
	pending := make(chan ConnectResult)
	iface := &mockServerInterface{}
	iface.On("AConnectToServer", mock.Anything).Return((<-chan ConnectResult)(pending)).Once()
	counter := &mockCounter{}
	s := New(iface, WithCounter(counter))

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.AConnect(ctx)
	cancel()

	res := <-ch
	require.ErrorIs(t, res.Err, context.Canceled)

	// The interface delivers its result after the caller gave up.
	select {
	case pending <- ConnectResult{Connected: true}:
	case <-time.After(time.Second):
		t.Fatal("late connect result was never received")
	}

	assert.False(t, s.Connected())
	counter.AssertNotCalled(t, "Increment")
}
