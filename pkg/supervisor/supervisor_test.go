package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWorker struct {
	mock.Mock
}

func (m *mockWorker) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestRestartOnPanic(t *testing.T) {
	var calls atomic.Int32
	w := WorkerFunc(func(context.Context) error {
		calls.Add(1)
		panic("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		New(zap.NewNop()).Add("panicky", w).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestRestartOnError(t *testing.T) {
	w := &mockWorker{}
	w.On("Run", mock.Anything).Return(errors.New("transient")).Once()
	w.On("Run", mock.Anything).Return(nil).Once()

	done := make(chan struct{})
	go func() {
		New(zap.NewNop()).Add("flaky", w).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor should stop once the worker succeeds")
	}
	w.AssertNumberOfCalls(t, "Run", 2)
}

func TestStopOnSuccess(t *testing.T) {
	w := &mockWorker{}
	w.On("Run", mock.Anything).Return(nil).Once()

	done := make(chan struct{})
	go func() {
		New(zap.NewNop()).Add("once", w).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("supervisor should have stopped after worker success")
	}
	w.AssertExpectations(t)
}

func TestPanicIsReportedAsError(t *testing.T) {
	err := runOnce(context.Background(), WorkerFunc(func(context.Context) error { panic("kaboom") }))
	require.ErrorIs(t, err, ErrWorkerPanic)
	require.Contains(t, err.Error(), "kaboom")
}
