package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Success(t *testing.T) {
	v := New(func(ctx context.Context) (string, error) {
		return "hello", nil
	})

	assert.Equal(t, Unloaded, v.StateNow())

	got, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, Loaded, v.StateNow())
	assert.True(t, v.IsLoaded())
}

func TestGet_PureRead(t *testing.T) {
	calls := 0
	v := New(func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})

	_, ok := v.Get()
	assert.False(t, ok, "unloaded value is absent")
	assert.Equal(t, 0, calls, "Get never initiates a load")
	assert.Equal(t, Unloaded, v.StateNow(), "Get never changes state")

	_, err := v.Load(context.Background())
	require.NoError(t, err)

	got, ok := v.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestLoad_CachedAfterLoaded(t *testing.T) {
	calls := 0
	v := New(func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	first, err := v.Load(context.Background())
	require.NoError(t, err)
	second, err := v.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second, "second Load returns the cached value")
	assert.Equal(t, 1, calls, "loader not re-invoked for a Loaded value")
}

func TestLoad_ConcurrentCallersCollapse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	v := New(func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "once", nil
	})

	const n = 8
	results := make([]string, n)
	var wg sync.WaitGroup
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			got, err := v.Load(context.Background())
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	for i := 0; i < n; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "exactly one loader invocation")
	for _, r := range results {
		assert.Equal(t, "once", r)
	}
}

func TestLoad_FailureRetained(t *testing.T) {
	boom := errors.New("boom")
	v := New(func(ctx context.Context) (int, error) {
		return 0, boom
	})

	_, err := v.Load(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, v.StateNow())
	assert.ErrorIs(t, v.Err(), boom, "error retained for inspection")

	_, ok := v.Get()
	assert.False(t, ok)
}

func TestReset_FailedThenRetry(t *testing.T) {
	attempts := 0
	v := New(func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	})

	_, err := v.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, v.StateNow())

	require.NoError(t, v.Reset())
	assert.Equal(t, Unloaded, v.StateNow())
	assert.NoError(t, v.Err(), "reset clears the retained error")

	got, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, Loaded, v.StateNow())
}

func TestReset_InvalidOutsideFailed(t *testing.T) {
	v := New(func(ctx context.Context) (int, error) { return 1, nil })

	err := v.Reset()
	require.ErrorIs(t, err, ErrNotResettable, "reset absent in Unloaded")

	_, loadErr := v.Load(context.Background())
	require.NoError(t, loadErr)
	err = v.Reset()
	require.ErrorIs(t, err, ErrNotResettable, "reset absent in Loaded")
}

func TestReload_BypassesCache(t *testing.T) {
	calls := 0
	v := New(func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	first, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := v.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second, "reload re-invokes the loader")
	assert.Equal(t, Loaded, v.StateNow())
}

func TestIsLoading_DuringLoad(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	v := New(func(ctx context.Context) (int, error) {
		close(entered)
		<-release
		return 1, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := v.Load(context.Background())
		assert.NoError(t, err)
	}()

	<-entered
	assert.True(t, v.IsLoading())
	close(release)
	<-done
	assert.False(t, v.IsLoading())
}

func TestObserve_FiresOnTransitions(t *testing.T) {
	v := New(func(ctx context.Context) (int, error) { return 1, nil })

	var states []State
	v.Observe(func() {
		states = append(states, v.StateNow())
	})

	_, err := v.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{Loading, Loaded}, states)
}

func TestLoad_FollowerContextCancellation(t *testing.T) {
	release := make(chan struct{})
	v := New(func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})

	entered := make(chan struct{})
	go func() {
		close(entered)
		_, _ = v.Load(context.Background())
	}()
	<-entered

	// Wait until the leader has actually entered Loading.
	for v.StateNow() != Loading {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Load(ctx)
	require.ErrorIs(t, err, context.Canceled, "follower stops consuming; shared load unaffected")

	close(release)
	got, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
