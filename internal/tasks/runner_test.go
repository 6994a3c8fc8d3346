package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoRejectsSecondTaskForSameKey(t *testing.T) {
	r := NewRunner(nil)
	release := make(chan struct{})
	require.NoError(t, r.Go(context.Background(), "p1", "code_generation", func(ctx context.Context) error {
		<-release
		return nil
	}))

	err := r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	stage, ok := r.Running("p1")
	assert.True(t, ok)
	assert.Equal(t, "code_generation", stage)

	close(release)
	require.NoError(t, r.Wait(context.Background(), "p1"))
	_, ok = r.Running("p1")
	assert.False(t, ok)

	// The key is free again once the first task is done.
	require.NoError(t, r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error { return nil }))
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestConcurrentGoSingleWinner(t *testing.T) {
	r := NewRunner(nil)
	release := make(chan struct{})
	var started atomic.Int32
	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error {
				started.Add(1)
				<-release
				return nil
			})
			if err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(1), started.Load())
}

func TestCancelStopsTask(t *testing.T) {
	r := NewRunner(nil)
	observed := make(chan error, 1)
	require.NoError(t, r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error {
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	}))

	done := r.Cancel("p1")
	require.NotNil(t, done)
	<-done
	assert.ErrorIs(t, <-observed, context.Canceled)
	assert.Nil(t, r.Cancel("p1"))
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestTaskOutlivesParentCancellation(t *testing.T) {
	r := NewRunner(nil)
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "req-1"))
	result := make(chan string, 1)
	release := make(chan struct{})
	require.NoError(t, r.Go(parent, "p1", "code_generation", func(ctx context.Context) error {
		<-release
		if ctx.Err() != nil {
			result <- "cancelled"
			return nil
		}
		v, _ := ctx.Value(key{}).(string)
		result <- v
		return nil
	}))
	cancel()
	close(release)
	assert.Equal(t, "req-1", <-result)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestShutdownRejectsNewTasks(t *testing.T) {
	r := NewRunner(nil)
	require.NoError(t, r.Shutdown(context.Background()))
	err := r.Go(context.Background(), "p1", "code_generation", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownForcesCancellationAfterDeadline(t *testing.T) {
	r := NewRunner(nil)
	require.NoError(t, r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, r.Len())
}

func TestPanicIsContained(t *testing.T) {
	r := NewRunner(nil)
	require.NoError(t, r.Go(context.Background(), "p1", "code_execution", func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, r.Shutdown(context.Background()))
	_, ok := r.Running("p1")
	assert.False(t, ok)
}
