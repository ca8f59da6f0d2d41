package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	orig := host
	defer func() { host = orig }()

	host = "localhost:8870"
	assert.Equal(t, "http://localhost:8870", baseURL())
	host = "https://query.example.com/"
	assert.Equal(t, "https://query.example.com", baseURL())
}

func TestAPIPath(t *testing.T) {
	origHost, origVer := host, apiVersion
	defer func() { host, apiVersion = origHost, origVer }()

	host = "localhost:8870"
	apiVersion = "v1.3"
	assert.Equal(t, "http://localhost:8870/x-nmos/query/v1.3/nodes", apiPath("nodes"))
	assert.Equal(t,
		"http://localhost:8870/x-nmos/query/v1.3/subscriptions/abc",
		apiPath("subscriptions", "abc"))
}

func TestParseKeyValues(t *testing.T) {
	t.Parallel()
	got, err := parseKeyValues([]string{"label=studio", "format=urn:x-nmos:format:video"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"label":  "studio",
		"format": "urn:x-nmos:format:video",
	}, got)

	got, err = parseKeyValues(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseKeyValues([]string{"nodelimiter"})
	assert.ErrorIs(t, err, errBadKeyValue)
	_, err = parseKeyValues([]string{"=value"})
	assert.ErrorIs(t, err, errBadKeyValue)
}

func TestDoRequest(t *testing.T) {
	t.Parallel()
	sm := http.NewServeMux()
	sm.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, err := io.WriteString(w, `{"hello":"world"}`)
		assert.NoError(t, err)
	})
	sm.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := io.WriteString(w, `{"code":404,"error":"subscription abc not found","debug":null}`)
		assert.NoError(t, err)
	})
	sm.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(sm)
	defer srv.Close()

	var out map[string]string
	require.NoError(t, doRequest(context.Background(), http.MethodGet, srv.URL+"/ok", nil, &out))
	assert.Equal(t, "world", out["hello"])

	err := doRequest(context.Background(), http.MethodGet, srv.URL+"/missing", nil, nil)
	require.ErrorIs(t, err, errRequestFailed)
	assert.Contains(t, err.Error(), "subscription abc not found")

	require.NoError(t, doRequest(context.Background(), http.MethodDelete, srv.URL+"/empty", nil, nil))
}
