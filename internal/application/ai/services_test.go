package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-reposcan/internal/application/clocktest"
	"github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

type scriptedProvider struct {
	mu      sync.Mutex
	errs    []error
	answer  string
	calls   int
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", err
	}
	return p.answer, nil
}

type countingBudget struct {
	reservations []int
	err          error
}

func (b *countingBudget) Reserve(_ context.Context, tokens int) error {
	if b.err != nil {
		return b.err
	}
	b.reservations = append(b.reservations, tokens)
	return nil
}

func newTestAnalyzer(p ai.Provider, b Budget, clock *clocktest.Clock) *Analyzer {
	return NewAnalyzer(p, b, clock, RetryConfig{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}, scans.DefaultTokensPerChar)
}

func request() Request {
	return Request{Kind: scans.ScanVulnerability, Path: "main.py", Classification: scans.CategoryCode, Content: "print(1)"}
}

func TestAnalyzeSucceedsFirstTry(t *testing.T) {
	clock := clocktest.New()
	p := &scriptedProvider{answer: "no issues"}
	b := &countingBudget{}

	res, err := newTestAnalyzer(p, b, clock).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "no issues", res.Analysis)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, b.reservations, 1)
	assert.Positive(t, b.reservations[0])
	assert.Empty(t, clock.Sleeps())
	assert.Contains(t, p.prompts[0], `"main.py"`)
}

func TestAnalyzeBacksOffOnOverload(t *testing.T) {
	clock := clocktest.New()
	p := &scriptedProvider{
		errs:   []error{ai.ErrOverloaded, ai.ErrOverloaded, ai.ErrOverloaded},
		answer: "HIGH: sql injection",
	}
	b := &countingBudget{}

	res, err := newTestAnalyzer(p, b, clock).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second}, clock.Sleeps())
	assert.Len(t, b.reservations, 4, "every attempt is charged")
}

func TestAnalyzeExhaustsRetries(t *testing.T) {
	clock := clocktest.New()
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("upstream said 503 Service Unavailable")
	}
	p := &scriptedProvider{errs: errs}

	_, err := newTestAnalyzer(p, &countingBudget{}, clock).Analyze(context.Background(), request())
	require.Error(t, err)

	var attemptErr *ai.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, 6, attemptErr.Attempts)
	assert.Equal(t, 6, p.calls)
	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second,
	}, clock.Sleeps())
}

func TestAnalyzeDoesNotRetryTerminalErrors(t *testing.T) {
	for _, terminal := range []error{ai.ErrQuotaExceeded, errors.New("invalid api key")} {
		clock := clocktest.New()
		p := &scriptedProvider{errs: []error{terminal}}

		_, err := newTestAnalyzer(p, &countingBudget{}, clock).Analyze(context.Background(), request())
		var attemptErr *ai.AttemptError
		require.ErrorAs(t, err, &attemptErr)
		assert.Equal(t, 1, attemptErr.Attempts)
		assert.ErrorIs(t, err, terminal)
		assert.Empty(t, clock.Sleeps())
	}
}

func TestAnalyzeTreatsEmptyResponseAsTerminal(t *testing.T) {
	p := &scriptedProvider{}
	_, err := newTestAnalyzer(p, &countingBudget{}, clocktest.New()).Analyze(context.Background(), request())
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}

func TestAnalyzeBudgetFailure(t *testing.T) {
	p := &scriptedProvider{answer: "x"}
	b := &countingBudget{err: context.Canceled}
	_, err := newTestAnalyzer(p, b, clocktest.New()).Analyze(context.Background(), request())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.calls)
}

func TestAnalyzeSnippet(t *testing.T) {
	p := &scriptedProvider{answer: "lodash is outdated"}
	a := newTestAnalyzer(p, &countingBudget{}, clocktest.New())

	out, err := a.AnalyzeSnippet(context.Background(), "", map[string]string{"lodash": "4.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "lodash is outdated", out)
	assert.Contains(t, p.prompts[0], "lodash")

	_, err = a.AnalyzeSnippet(context.Background(), "", nil)
	assert.Error(t, err)
}
