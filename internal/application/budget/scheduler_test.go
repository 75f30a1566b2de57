package budget

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-reposcan/internal/application"
	"github.com/bryanwahyu/automaton-reposcan/internal/application/clocktest"
)

type grantLog struct {
	at     time.Time
	tokens int
}

// assertWithinBudget checks that no interval of length window admitted more
// than limit tokens.
func assertWithinBudget(t *testing.T, log []grantLog, window time.Duration, limit int) {
	t.Helper()
	for i, g := range log {
		sum := 0
		for _, h := range log[i:] {
			if !h.at.Before(g.at.Add(window)) {
				continue
			}
			sum += h.tokens
		}
		require.LessOrEqual(t, sum, limit, "window starting at grant %d", i)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, clocktest.New())
	assert.Equal(t, 960000, s.Limit())
	assert.Equal(t, time.Minute, s.Window())

	s = New(Config{MaxTokens: 1000, Window: time.Second, SafetyMargin: 0.5}, nil)
	assert.Equal(t, 500, s.Limit())
}

func TestReserve_WaitsForOldestGrantToExpire(t *testing.T) {
	clock := clocktest.New()
	s := New(Config{MaxTokens: 125, Window: time.Minute, SafetyMargin: 0.8}, clock)
	ctx := context.Background()

	require.NoError(t, s.Reserve(ctx, 60))
	clock.Advance(10 * time.Second)
	require.NoError(t, s.Reserve(ctx, 30))
	assert.Equal(t, 90, s.Used())
	assert.Empty(t, clock.Sleeps())

	require.NoError(t, s.Reserve(ctx, 20))
	assert.Equal(t, []time.Duration{50 * time.Second}, clock.Sleeps())
	assert.Equal(t, 50, s.Used())
}

func TestReserve_WindowRollsOver(t *testing.T) {
	clock := clocktest.New()
	s := New(Config{MaxTokens: 100, Window: time.Minute, SafetyMargin: 1}, clock)
	ctx := context.Background()

	require.NoError(t, s.Reserve(ctx, 100))
	clock.Advance(time.Minute)
	assert.Equal(t, 0, s.Used())
	require.NoError(t, s.Reserve(ctx, 100))
	assert.Empty(t, clock.Sleeps())
}

func TestReserve_TooLarge(t *testing.T) {
	s := New(Config{MaxTokens: 100, SafetyMargin: 1}, clocktest.New())
	err := s.Reserve(context.Background(), 101)
	assert.ErrorIs(t, err, ErrReservationTooLarge)
	assert.NoError(t, s.Reserve(context.Background(), 0))
	assert.Equal(t, 0, s.Used())
}

func TestReserve_ContextCancelledWhileWaiting(t *testing.T) {
	s := New(Config{MaxTokens: 10, Window: time.Hour, SafetyMargin: 1}, application.SystemClock{})
	require.NoError(t, s.Reserve(context.Background(), 10))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := s.Reserve(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, s.Used())
}

func TestReserve_PropertyRandomTimings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		clock := clocktest.New()
		window := time.Duration(1+rng.Intn(60)) * time.Second
		s := New(Config{MaxTokens: 1000 + rng.Intn(5000), Window: window, SafetyMargin: 0.8}, clock)

		var log []grantLog
		s.onGrant = func(at time.Time, tokens int) { log = append(log, grantLog{at, tokens}) }

		for i := 0; i < 300; i++ {
			clock.Advance(time.Duration(rng.Intn(int(window/time.Millisecond))) * time.Millisecond / 4)
			require.NoError(t, s.Reserve(context.Background(), 1+rng.Intn(s.Limit())))
		}
		require.Len(t, log, 300)
		assertWithinBudget(t, log, window, s.Limit())
	}
}

func TestReserve_ConcurrentCallersShareBudget(t *testing.T) {
	clock := clocktest.New()
	s := New(Config{MaxTokens: 100, Window: time.Minute, SafetyMargin: 1}, clock)

	var log []grantLog
	s.onGrant = func(at time.Time, tokens int) { log = append(log, grantLog{at, tokens}) }

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, s.Reserve(context.Background(), 30))
			}
		}()
	}
	wg.Wait()

	require.Len(t, log, 80)
	assertWithinBudget(t, log, time.Minute, 100)
}
