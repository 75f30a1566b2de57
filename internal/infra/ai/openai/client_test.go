package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
}

func writeError(w http.ResponseWriter, status int, code, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": "upstream error", "type": kind, "code": code},
	})
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "Severity: High"}},
			},
		})
	})

	out, err := c.Complete(context.Background(), "be careful", "analyze this")
	require.NoError(t, err)
	assert.Equal(t, "Severity: High", out)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Complete(context.Background(), "i", "p")
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}

func TestCompleteClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		code      string
		want      error
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit_exceeded", ai.ErrRateLimited, true},
		{"quota", http.StatusTooManyRequests, "insufficient_quota", ai.ErrQuotaExceeded, false},
		{"overloaded", http.StatusServiceUnavailable, "", ai.ErrOverloaded, true},
		{"server error", http.StatusInternalServerError, "", ai.ErrUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tc.status, tc.code, "error")
			})
			_, err := c.Complete(context.Background(), "i", "p")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.transient, ai.IsTransient(err))
		})
	}
}

func TestCompleteBadRequestIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid_request_error")
	})
	_, err := c.Complete(context.Background(), "i", "p")
	require.Error(t, err)
	assert.False(t, ai.IsTransient(err))
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o"))
}
