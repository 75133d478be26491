package client

import (
	"os"
	"strings"

	"github.com/Southclaws/fault"
)

// Environment variables read by NewFromEnv.
const (
	EnvBaseURL   = "FLUXSAVE_BASE_URL"
	EnvAPIKey    = "FLUXSAVE_API_KEY"
	EnvAPISecret = "FLUXSAVE_API_SECRET"
)

// NewFromEnv creates a client from FLUXSAVE_BASE_URL, FLUXSAVE_API_KEY and
// FLUXSAVE_API_SECRET. Options are applied after the environment credentials.
func NewFromEnv(opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv(EnvBaseURL))
	if baseURL == "" {
		return nil, fault.New(EnvBaseURL + " is not set")
	}

	all := []Option{WithCredentials(os.Getenv(EnvAPIKey), os.Getenv(EnvAPISecret))}
	return New(baseURL, append(all, opts...)...)
}
