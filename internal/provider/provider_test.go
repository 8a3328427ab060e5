package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingClientRoundTrip(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
			}{Embedding: []float64{float64(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := newEmbeddingClient(Config{
		EmbeddingURL:    server.URL,
		EmbeddingModel:  "test-model",
		EmbeddingAPIKey: "sk-test",
	})
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{1, 1}, vecs[1])
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", gotModel)
}

func TestEmbeddingClientErrorsCarryStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := newEmbeddingClient(Config{EmbeddingURL: server.URL, EmbeddingModel: "m"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	// The retry controller classifies by status code in the message
	assert.Contains(t, err.Error(), "429")
}

func TestEmbeddingClientCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1,2]}]}`)
	}))
	defer server.Close()

	client, err := newEmbeddingClient(Config{EmbeddingURL: server.URL, EmbeddingModel: "m"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestEmbeddingClientRequiresModel(t *testing.T) {
	_, err := newEmbeddingClient(Config{EmbeddingURL: "http://localhost"})
	assert.Error(t, err)
}

func TestStubDeterminism(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()

	a, err := stub.Embed(ctx, []string{"login is broken", "export fails"})
	require.NoError(t, err)
	b, err := stub.Embed(ctx, []string{"login is broken", "export fails"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must always embed to the same vector")
	assert.Len(t, a[0], 8)
	assert.NotEqual(t, a[0], a[1], "different texts should differ")
	assert.Equal(t, 2, stub.EmbedCalls())
}

func TestStubPinnedVectors(t *testing.T) {
	stub := NewStub()
	stub.SetVector("pinned", []float64{1, 0, 0})

	vecs, err := stub.Embed(context.Background(), []string{"pinned"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, vecs[0])
}

func TestStubComplete(t *testing.T) {
	stub := NewStub()
	stub.CompleteFunc = func(prompt string) (string, error) {
		return "TICKET: " + prompt, nil
	}

	out, err := stub.Complete(context.Background(), "draft this")
	require.NoError(t, err)
	assert.Equal(t, "TICKET: draft this", out)
	assert.Equal(t, 1, stub.CompleteCalls())
}
