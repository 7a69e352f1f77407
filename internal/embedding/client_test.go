package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"complete", ProviderConfig{APIKey: "k", BaseURL: "http://x", Model: "m"}, false},
		{"missing key", ProviderConfig{BaseURL: "http://x", Model: "m"}, true},
		{"missing base url", ProviderConfig{APIKey: "k", Model: "m"}, true},
		{"missing model", ProviderConfig{APIKey: "k", BaseURL: "http://x"}, true},
		{"whitespace only", ProviderConfig{APIKey: "  ", BaseURL: "http://x", Model: "m"}, true},
		{"empty", ProviderConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotConfigured)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClientRejectsIncompleteConfig(t *testing.T) {
	_, err := NewClient(ProviderConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmbedSuccess(t *testing.T) {
	var gotAuth string
	var gotBody embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/embeddings", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(ProviderConfig{APIKey: "secret", BaseURL: srv.URL, Model: "text-embedding-3-small"})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, []string{"hello"}, gotBody.Input)
	assert.Equal(t, "text-embedding-3-small", gotBody.Model)
	assert.Equal(t, "float", gotBody.EncodingFormat)
}

func TestEmbedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(ProviderConfig{APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "401")
}

func TestEmbedAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Model: "nope"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "model not found")
}

func TestEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "no vector")
}

func TestEmbedConnectionError(t *testing.T) {
	client, err := NewClient(ProviderConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestMockDeterminism(t *testing.T) {
	m := NewMock(8)

	a, err := m.Embed(context.Background(), "hello")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "hello")
	require.NoError(t, err)
	c, err := m.Embed(context.Background(), "world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)
	assert.Equal(t, "mock", m.Model())
}
