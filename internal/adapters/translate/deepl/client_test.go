package deepl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bnema/skyrelay/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPicksEndpointFromKey(t *testing.T) {
	free, err := New(Options{APIKey: "abc:fx"})
	require.NoError(t, err)
	assert.Equal(t, FreeURL, free.baseURL)
	assert.Equal(t, DefaultTargetLang, free.targetLang)

	pro, err := New(Options{APIKey: "abc", TargetLang: "de"})
	require.NoError(t, err)
	assert.Equal(t, ProURL, pro.baseURL)
	assert.Equal(t, "DE", pro.targetLang)

	_, err = New(Options{})
	require.Error(t, err)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/translate", r.URL.Path)
		assert.Equal(t, "DeepL-Auth-Key key:fx", r.Header.Get("Authorization"))

		var req translateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"Bonjour"}, req.Text)
		assert.Equal(t, "EN-US", req.TargetLang)

		_, _ = w.Write([]byte(`{"translations":[{"detected_source_language":"FR","text":"Hello"}]}`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "key:fx", APIURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	got, err := client.Translate(context.Background(), "Bonjour")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

func TestTranslateRetriesThenFails(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(456)
		_, _ = w.Write([]byte(`{"message":"Quota exceeded"}`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "key", APIURL: srv.URL, HTTPClient: srv.Client(), Retry: retry.Budget{Attempts: 2}})
	require.NoError(t, err)

	_, err = client.Translate(context.Background(), "Bonjour")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 456, apiErr.Status)
	assert.Contains(t, err.Error(), "Quota exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestTranslateEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"translations":[]}`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "key", APIURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = client.Translate(context.Background(), "Bonjour")
	require.ErrorIs(t, err, ErrEmptyResult)
}
