package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/glassbox/internal/provider"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		category provider.Category
	}{
		{"http 429", errors.New("status 429: resource exhausted"), provider.CategoryQuota},
		{"quota keyword", errors.New("daily Quota exceeded for project"), provider.CategoryQuota},
		{"rate limit keyword pair", errors.New("Rate limit hit, slow down"), provider.CategoryRateLimited},
		{"no candidates sentinel", provider.ErrNoCandidates, provider.CategoryEmpty},
		{"empty content sentinel", provider.ErrEmptyContent, provider.CategoryEmpty},
		{"empty parts sentinel", provider.ErrEmptyParts, provider.CategoryEmpty},
		{"anything else", errors.New("connection reset by peer"), provider.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cat, msg := provider.Classify(tt.err)

			assert.Equal(t, tt.category, cat)
			assert.NotEmpty(t, msg)
		})
	}

	t.Run("other category echoes the raw message", func(t *testing.T) {
		t.Parallel()

		_, msg := provider.Classify(errors.New("boom"))

		assert.Equal(t, "Error: boom", msg)
	})

	t.Run("rate without limit is not rate-limited", func(t *testing.T) {
		t.Parallel()

		cat, _ := provider.Classify(errors.New("first rate service"))

		assert.Equal(t, provider.CategoryOther, cat)
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()

		cat, msg := provider.Classify(nil)

		assert.Equal(t, provider.CategoryOther, cat)
		assert.Empty(t, msg)
	})
}

func geminiServer(t *testing.T, handler http.HandlerFunc) *provider.GeminiClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return provider.NewGeminiClient("test-key", 5*time.Second, provider.WithBaseURL(srv.URL))
}

func TestGeminiClient_Generate(t *testing.T) {
	t.Parallel()

	turns := []provider.Turn{{Role: provider.RoleUser, Text: "Calculate 5 + 3"}}
	tools := []provider.ToolSchema{{
		Name:        "calculator",
		Description: "Evaluates arithmetic expressions",
		Parameters: map[string]provider.ParamSpec{
			"expression": {Type: "string", Description: "Mathematical expression to evaluate"},
		},
		Required: []string{"expression"},
	}}

	t.Run("text response", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Len(t, req["contents"], 1)
			assert.Len(t, req["tools"], 1)

			_, _ = w.Write([]byte(`{
				"candidates": [{"content": {"role": "model", "parts": [{"text": "The answer is 8."}]}}],
				"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 7}
			}`))
		})

		completion, err := client.Generate(context.Background(), "gemini-2.0-flash", turns, tools)

		require.NoError(t, err)
		assert.Nil(t, completion.ToolCall)
		assert.Equal(t, "The answer is 8.", completion.Text)
		assert.Equal(t, 12, completion.InputTokens)
		assert.Equal(t, 7, completion.OutputTokens)
	})

	t.Run("function call response", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"candidates": [{"content": {"role": "model", "parts": [
					{"functionCall": {"name": "calculator", "args": {"expression": "5 + 3"}}}
				]}}],
				"usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 4}
			}`))
		})

		completion, err := client.Generate(context.Background(), "gemini-2.0-flash", turns, tools)

		require.NoError(t, err)
		require.NotNil(t, completion.ToolCall)
		assert.Equal(t, "calculator", completion.ToolCall.Name)
		assert.Equal(t, "5 + 3", completion.ToolCall.Args["expression"])
	})

	t.Run("no candidates is a distinguished failure", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates": []}`))
		})

		_, err := client.Generate(context.Background(), "gemini-2.0-flash", turns, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, provider.ErrNoCandidates)

		cat, _ := provider.Classify(err)
		assert.Equal(t, provider.CategoryEmpty, cat)
	})

	t.Run("empty parts is a distinguished failure", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": []}}]}`))
		})

		_, err := client.Generate(context.Background(), "gemini-2.0-flash", turns, nil)

		assert.ErrorIs(t, err, provider.ErrEmptyParts)
	})

	t.Run("http 429 surfaces status and body", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded"}}`))
		})

		_, err := client.Generate(context.Background(), "gemini-2.0-flash", turns, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")

		cat, _ := provider.Classify(err)
		assert.Equal(t, provider.CategoryQuota, cat)
	})

	t.Run("context cancellation aborts the call", func(t *testing.T) {
		t.Parallel()

		client := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
			// The server only watches for client disconnect once the request
			// body is consumed; without this drain the context never fires
			// and srv.Close deadlocks in cleanup.
			_, _ = io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Generate(ctx, "gemini-2.0-flash", turns, nil)

		assert.Error(t, err)
	})
}
