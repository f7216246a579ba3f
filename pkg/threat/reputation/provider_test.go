package reputation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
)

func TestDenylistProvider(t *testing.T) {
	provider := reputation.NewDenylistProvider([]string{"203.0.113.7"})
	ctx := context.Background()

	result, err := provider.CheckReputation(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 0.95, result.Score)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, []string{"denylist"}, result.Categories)

	result, err = provider.CheckReputation(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.Zero(t, result.Score)
	assert.Equal(t, 1.0, result.Confidence)

	provider.Add("198.51.100.1", "manual block")
	result, _ = provider.CheckReputation(ctx, "198.51.100.1")
	assert.Equal(t, 0.95, result.Score)

	provider.Remove("198.51.100.1")
	result, _ = provider.CheckReputation(ctx, "198.51.100.1")
	assert.Zero(t, result.Score)
}

func TestHTTPProviderValidation(t *testing.T) {
	_, err := reputation.NewHTTPProvider(reputation.HTTPProviderConfig{URL: "http://x/%s"})
	assert.Error(t, err)

	_, err = reputation.NewHTTPProvider(reputation.HTTPProviderConfig{Name: "x"})
	assert.Error(t, err)
}

func TestHTTPProviderQuery(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":0.7,"confidence":0.85,"categories":["botnet"]}`))
	}))
	defer server.Close()

	provider, err := reputation.NewHTTPProvider(reputation.HTTPProviderConfig{
		Name:   "external",
		URL:    server.URL + "/check/%s",
		APIKey: "secret",
	})
	require.NoError(t, err)
	assert.True(t, provider.Available())

	result, err := provider.CheckReputation(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "/check/203.0.113.9", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "external", result.Provider)
	assert.InDelta(t, 0.7, result.Score, 0.001)
	assert.InDelta(t, 0.85, result.Confidence, 0.001)
	assert.Equal(t, []string{"botnet"}, result.Categories)
}

func TestHTTPProviderBreakerOpensOnFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider, err := reputation.NewHTTPProvider(reputation.HTTPProviderConfig{
		Name:        "flaky",
		URL:         server.URL + "/check/%s",
		MaxFailures: 2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = provider.CheckReputation(ctx, "203.0.113.9")
	assert.Error(t, err)
	assert.True(t, provider.Available())

	_, err = provider.CheckReputation(ctx, "203.0.113.9")
	assert.Error(t, err)
	assert.False(t, provider.Available(), "breaker should open after consecutive failures")
}
