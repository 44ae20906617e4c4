package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter(time.Duration) time.Duration { return 0 }

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores budget", Config{Disabled: true}, false},
		{"valid", Config{Limit: 3, Period: time.Second}, false},
		{"zero limit", Config{Limit: 0, Period: time.Second}, true},
		{"zero period", Config{Limit: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisabledResolvesImmediately(t *testing.T) {
	s, err := New("off", Config{Disabled: true})
	require.NoError(t, err)

	var called atomic.Bool
	it := s.Enqueue(func() { called.Store(true) })

	assert.True(t, it.Started())
	assert.True(t, it.Resolved())
	assert.True(t, called.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestAdmissionWithinBudget(t *testing.T) {
	const period = 200 * time.Millisecond
	s, err := New("burst", Config{Limit: 3, Period: period}, WithJitter(noJitter))
	require.NoError(t, err)
	defer s.Stop()

	start := time.Now()
	var resolvedAt [5]atomic.Int64
	items := make([]*Item, 5)
	for i := range items {
		i := i
		items[i] = s.Enqueue(func() { resolvedAt[i].Store(int64(time.Since(start))) })
	}

	for i := 0; i < 3; i++ {
		assert.True(t, items[i].Started(), "item %d should be admitted immediately", i)
	}
	for i := 3; i < 5; i++ {
		assert.False(t, items[i].Started(), "item %d should wait for the next cycle", i)
	}
	assert.Equal(t, 2, s.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 5*period)
	defer cancel()
	for _, it := range items {
		require.NoError(t, it.Wait(ctx))
	}

	for i := 0; i < 3; i++ {
		assert.Less(t, time.Duration(resolvedAt[i].Load()), period)
	}
	for i := 3; i < 5; i++ {
		assert.GreaterOrEqual(t, time.Duration(resolvedAt[i].Load()), period)
	}
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, s.InFlight())
}

func TestLateArrivalsWaitForNextPeriod(t *testing.T) {
	const period = 200 * time.Millisecond
	s, err := New("late", Config{Limit: 2, Period: period}, WithJitter(noJitter))
	require.NoError(t, err)
	defer s.Stop()

	start := time.Now()
	items := make([]*Item, 4)
	for i := range items {
		items[i] = s.Enqueue(nil)
	}
	require.Eventually(t, items[2].Started, 3*period, 5*time.Millisecond)
	require.Eventually(t, items[3].Resolved, period, 5*time.Millisecond)

	late := []*Item{s.Enqueue(nil), s.Enqueue(nil)}
	for i, it := range late {
		assert.False(t, it.Started(), "late item %d was admitted in a full period", i)
	}
	assert.Equal(t, 2, s.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 5*period)
	defer cancel()
	for _, it := range late {
		require.NoError(t, it.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*period)
}

func TestQueuedItemsKeepOrder(t *testing.T) {
	s, err := New("fifo", Config{Limit: 1, Period: time.Hour}, WithJitter(func(time.Duration) time.Duration {
		return 10 * time.Millisecond
	}))
	require.NoError(t, err)
	defer s.Stop()

	first := s.Enqueue(nil)
	second := s.Enqueue(nil)
	require.NoError(t, first.Wait(context.Background()))

	third := s.Enqueue(nil)
	assert.False(t, second.Started())
	assert.False(t, third.Started())
	assert.Equal(t, 2, s.Pending())
}

func TestJitterBounded(t *testing.T) {
	const period = 100 * time.Millisecond
	var seen []time.Duration
	s, err := New("jitter", Config{Limit: 2, Period: period}, WithJitter(func(limit time.Duration) time.Duration {
		seen = append(seen, limit)
		return randomJitter(limit)
	}))
	require.NoError(t, err)
	defer s.Stop()

	it := s.Enqueue(nil)
	require.NoError(t, it.Wait(context.Background()))
	require.Len(t, seen, 1)
	assert.Equal(t, period/2, seen[0])

	for i := 0; i < 100; i++ {
		d := randomJitter(period / 2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, period/2)
	}
}

func TestCycleRestartsAfterDrain(t *testing.T) {
	const period = 50 * time.Millisecond
	s, err := New("restart", Config{Limit: 1, Period: period}, WithJitter(noJitter))
	require.NoError(t, err)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*period)
	defer cancel()

	first := s.Enqueue(nil)
	second := s.Enqueue(nil)
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stop == nil
	}, 10*period, period/5)

	third := s.Enqueue(nil)
	fourth := s.Enqueue(nil)
	require.NoError(t, third.Wait(ctx))
	require.NoError(t, fourth.Wait(ctx))
}

func TestStopReleasesAdmittedItems(t *testing.T) {
	s, err := New("stop", Config{Limit: 2, Period: time.Hour}, WithJitter(func(time.Duration) time.Duration {
		return time.Hour
	}))
	require.NoError(t, err)

	a := s.Enqueue(nil)
	b := s.Enqueue(nil)
	c := s.Enqueue(nil)
	assert.Equal(t, 2, s.InFlight())
	assert.Equal(t, 1, s.Pending())

	s.Stop()

	assert.True(t, a.Resolved())
	assert.True(t, b.Resolved())
	assert.False(t, c.Started())
	assert.Equal(t, 0, s.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}
