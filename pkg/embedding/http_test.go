package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestHTTPProvider_Embed(t *testing.T) {
	var gotAuth string
	var gotReq embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{
		Endpoint: server.URL,
		APIKey:   "secret",
		Model:    "test-model",
	}, testLogger())

	vec, err := provider.Embed(context.Background(), "deploy failed on main")

	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "deploy failed on main", gotReq.Input)
}

func TestHTTPProvider_TruncatesLongInput(t *testing.T) {
	var gotReq embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{1}}},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL}, testLogger())

	_, err := provider.Embed(context.Background(), strings.Repeat("a", MaxInputChars+500))

	require.NoError(t, err)
	assert.Len(t, gotReq.Input, MaxInputChars)
}

func TestHTTPProvider_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL}, testLogger())

	vec, err := provider.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Nil(t, vec)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPProvider_EmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: server.URL}, testLogger())

	_, err := provider.Embed(context.Background(), "hello")

	require.Error(t, err)
}

func TestDisabled_Embed(t *testing.T) {
	vec, err := Disabled{}.Embed(context.Background(), "anything")

	assert.Nil(t, vec)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
	assert.Len(t, Truncate(strings.Repeat("x", MaxInputChars*2)), MaxInputChars)
}

func TestTruncate_BacksOffToRuneBoundary(t *testing.T) {
	// place a 3-byte rune straddling the cut point
	text := strings.Repeat("x", MaxInputChars-1) + strings.Repeat("日", 10)

	got := Truncate(text)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxInputChars)
	assert.Equal(t, MaxInputChars-1, len(got))
}
