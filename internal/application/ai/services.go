// Package ai drives the analysis provider: prompt construction, token budget
// charging and retry with exponential backoff.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/bryanwahyu/automaton-reposcan/internal/application"
	"github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/ai/prompt"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 3 * time.Second
)

// Budget is the part of the token scheduler the analyzer needs.
type Budget interface {
	Reserve(ctx context.Context, tokens int) error
}

// RetryConfig bounds the retry loop. A call is attempted at most
// MaxRetries+1 times; the delay before retry n (0-based) is BaseDelay*2^n.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Request describes one analysis call.
type Request struct {
	Kind           scans.ScanKind
	Path           string
	Classification scans.Category
	ChunkLabel     string
	Content        string
}

// Result of a successful analysis.
type Result struct {
	Analysis string
	Attempts int
}

type Analyzer struct {
	provider      ai.Provider
	budget        Budget
	clock         application.Clock
	retry         RetryConfig
	tokensPerChar float64
}

func NewAnalyzer(provider ai.Provider, budget Budget, clock application.Clock, retry RetryConfig, tokensPerChar float64) *Analyzer {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultBaseDelay
	}
	if tokensPerChar <= 0 {
		tokensPerChar = scans.DefaultTokensPerChar
	}
	return &Analyzer{provider: provider, budget: budget, clock: clock, retry: retry, tokensPerChar: tokensPerChar}
}

// Analyze sends one file or chunk to the provider. Every attempt charges the
// estimated tokens of the full request against the budget before calling out.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	instruction := prompt.SystemInstruction(req.Kind)
	p := prompt.FilePrompt(req.Path, req.Classification, req.ChunkLabel, req.Content)
	text, attempts, err := a.complete(ctx, instruction, p)
	if err != nil {
		return Result{Attempts: attempts}, err
	}
	return Result{Analysis: text, Attempts: attempts}, nil
}

// AnalyzeSnippet analyzes code and/or dependencies posted directly, without a
// repository or a report.
func (a *Analyzer) AnalyzeSnippet(ctx context.Context, code string, dependencies any) (string, error) {
	p, err := prompt.SnippetPrompt(code, dependencies)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", errors.New("nothing to analyze")
	}
	text, _, err := a.complete(ctx, prompt.SystemInstruction(scans.ScanComplete), p)
	return text, err
}

func (a *Analyzer) complete(ctx context.Context, instruction, p string) (string, int, error) {
	tokens := scans.EstimateTokens(instruction+p, a.tokensPerChar)
	var lastErr error
	for attempt := 0; attempt <= a.retry.MaxRetries; attempt++ {
		if err := a.budget.Reserve(ctx, tokens); err != nil {
			return "", attempt + 1, &ai.AttemptError{Attempts: attempt + 1, Err: err}
		}
		start := a.clock.Now()
		text, err := a.provider.Complete(ctx, instruction, p)
		analysisDuration.WithLabelValues(a.provider.Name()).Observe(a.clock.Now().Sub(start).Seconds())
		if err == nil {
			if text == "" {
				err = ai.ErrEmptyResponse
			} else {
				analysisCalls.WithLabelValues(a.provider.Name(), "ok").Inc()
				return text, attempt + 1, nil
			}
		}
		lastErr = err
		if !ai.IsTransient(err) {
			analysisCalls.WithLabelValues(a.provider.Name(), "error").Inc()
			return "", attempt + 1, &ai.AttemptError{Attempts: attempt + 1, Err: err}
		}
		analysisCalls.WithLabelValues(a.provider.Name(), "transient").Inc()
		if attempt == a.retry.MaxRetries {
			break
		}
		delay := a.retry.BaseDelay << attempt
		logg.Info("analysis attempt %d failed (%s), retrying in %s", attempt+1, err.Error(), delay)
		if err := a.clock.Sleep(ctx, delay); err != nil {
			return "", attempt + 1, &ai.AttemptError{Attempts: attempt + 1, Err: err}
		}
	}
	attempts := a.retry.MaxRetries + 1
	return "", attempts, &ai.AttemptError{Attempts: attempts, Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}
