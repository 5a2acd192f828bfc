package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

func serve(t *testing.T, status int, body string, seen *map[string]any) contract.LLMClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(b, seen)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	raw, _ := json.Marshal(Options{APIKey: "k", BaseURL: srv.URL})
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

func TestInvokeSuccess(t *testing.T) {
	var seen map[string]any
	c := serve(t, 200, `{"choices":[{"message":{"content":"done"}}]}`, &seen)
	tmp := float32(0.5)
	raw, err := c.Invoke(context.Background(), contract.TextPrompt("hi"), contract.GenOptions{Temperature: &tmp, MaxOutputTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "done", raw.Text)
	assert.InDelta(t, 0.5, seen["temperature"], 1e-6)
	assert.EqualValues(t, 100, seen["max_tokens"])
	assert.Equal(t, "gpt-4.1-mini", seen["model"])
}

func TestInvokeMinimalOmitsOptions(t *testing.T) {
	var seen map[string]any
	c := serve(t, 200, `{"choices":[{"message":{"content":"done"}}]}`, &seen)
	_, err := c.Invoke(context.Background(), contract.ChatPrompt{{Role: "user", Content: "x"}}, contract.GenOptions{})
	require.NoError(t, err)
	assert.NotContains(t, seen, "temperature")
	assert.NotContains(t, seen, "max_tokens")
}

func TestInvokeClassify(t *testing.T) {
	c := serve(t, 400, `{"error":{"message":"Unsupported parameter: 'max_tokens'","type":"invalid_request_error","param":"max_tokens","code":"unsupported_parameter"}}`, nil)
	_, err := c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{MaxOutputTokens: 5})
	assert.ErrorIs(t, err, contract.ErrUnsupportedOption)

	c = serve(t, 400, `{"error":{"message":"context too long","type":"invalid_request_error","param":"messages","code":"context_length_exceeded"}}`, nil)
	_, err = c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.NotErrorIs(t, err, contract.ErrUnsupportedOption)

	c = serve(t, 401, `{}`, nil)
	_, err = c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{})
	assert.ErrorIs(t, err, contract.ErrCredentialMissing)

	c = serve(t, 429, `{}`, nil)
	_, err = c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{})
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	c = serve(t, 502, `bad gateway`, nil)
	_, err = c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{})
	var ne net.Error
	require.True(t, errors.As(err, &ne))

	c = serve(t, 200, `{"choices":[]}`, nil)
	_, err = c.Invoke(context.Background(), contract.TextPrompt("x"), contract.GenOptions{})
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestNewOptions(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrCredentialMissing)

	_, err = New(json.RawMessage(`{"api_key":"k","max_tokens_field":"bogus"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	c, err := New(json.RawMessage(`{"disable_default_auth":true,"endpoint_path":"http://x/y"}`))
	require.NoError(t, err)
	assert.Equal(t, "http://x/y", c.(*Client).url)
}
