// Package budget enforces the analysis provider's tokens-per-minute quota.
//
// A single Scheduler is created at process start and shared by every scan job,
// so concurrently running reports draw from the same budget.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/bryanwahyu/automaton-reposcan/internal/application"
)

// ErrReservationTooLarge is returned for a reservation that could never fit
// in one window.
var ErrReservationTooLarge = errors.New("token reservation exceeds the per-window budget")

const (
	DefaultMaxTokens    = 1200000
	DefaultWindow       = time.Minute
	DefaultSafetyMargin = 0.8
)

// Config of the budget. The effective limit is MaxTokens * SafetyMargin.
type Config struct {
	MaxTokens    int
	Window       time.Duration
	SafetyMargin float64
}

type grant struct {
	at     time.Time
	tokens int
}

// Scheduler is a sliding-window limiter over estimated tokens. Check and
// record happen under one mutex, so two callers can never both pass the
// boundary check before either has charged its tokens.
type Scheduler struct {
	mu     sync.Mutex
	clock  application.Clock
	limit  int
	window time.Duration
	grants []grant // oldest first, all inside the window
	used   int

	onGrant func(at time.Time, tokens int)
}

// New builds the process-wide scheduler.
func New(cfg Config, clock application.Clock) *Scheduler {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SafetyMargin <= 0 || cfg.SafetyMargin > 1 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	limit := int(float64(cfg.MaxTokens) * cfg.SafetyMargin)
	if limit < 1 {
		limit = 1
	}
	budgetLimitGauge.Set(float64(limit))
	return &Scheduler{clock: clock, limit: limit, window: cfg.Window}
}

// Limit is the effective per-window token limit.
func (s *Scheduler) Limit() int { return s.limit }

// Window is the length of the rolling interval.
func (s *Scheduler) Window() time.Duration { return s.window }

// Used returns the tokens charged within the current window.
func (s *Scheduler) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(s.clock.Now())
	return s.used
}

// Reserve charges tokens against the budget, waiting until enough of the
// window has rolled over for them to fit.
func (s *Scheduler) Reserve(ctx context.Context, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	if tokens > s.limit {
		return fmt.Errorf("%w: %d > %d", ErrReservationTooLarge, tokens, s.limit)
	}
	for {
		s.mu.Lock()
		now := s.clock.Now()
		s.expire(now)
		if s.used+tokens <= s.limit {
			s.grants = append(s.grants, grant{at: now, tokens: tokens})
			s.used += tokens
			if s.onGrant != nil {
				s.onGrant(now, tokens)
			}
			s.mu.Unlock()
			budgetReservedCounter.Add(float64(tokens))
			return nil
		}
		wait := s.grants[0].at.Add(s.window).Sub(now)
		used := s.used
		s.mu.Unlock()

		budgetWaitsCounter.Inc()
		logg.Info("token budget reached: %d/%d used, waiting %s for %d tokens", used, s.limit, wait.Round(time.Millisecond), tokens)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// expire drops grants that left the window. Callers hold s.mu.
func (s *Scheduler) expire(now time.Time) {
	i := 0
	for ; i < len(s.grants); i++ {
		if now.Sub(s.grants[i].at) < s.window {
			break
		}
		s.used -= s.grants[i].tokens
	}
	if i > 0 {
		s.grants = append(s.grants[:0], s.grants[i:]...)
	}
}
