package client

import (
	"context"
	"net/http"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewFromEnv(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK, `{}`)

	t.Setenv(EnvBaseURL, srv.URL+"/")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPISecret, "env-secret")

	cl, err := NewFromEnv()
	assert.NilError(t, err)
	assert.Equal(t, cl.BaseURL(), srv.URL)

	_, err = cl.GetMetrics(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, requests.get()[0].Header.Get("x-api-key"), "env-key")
	assert.Equal(t, requests.get()[0].Header.Get("x-api-secret"), "env-secret")
}

func TestNewFromEnvOverride(t *testing.T) {
	t.Setenv(EnvBaseURL, "https://files.example.com")
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")

	cl, err := NewFromEnv(WithCredentials("k", "s"))
	assert.NilError(t, err)

	h, err := cl.authHeaders()
	assert.NilError(t, err)
	assert.Equal(t, h.Get("x-api-key"), "k")
}

func TestNewFromEnvMissingURL(t *testing.T) {
	t.Setenv(EnvBaseURL, "")

	_, err := NewFromEnv()
	assert.ErrorContains(t, err, EnvBaseURL)
}
