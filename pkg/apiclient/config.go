package apiclient

import "time"

const (
	DefaultBaseURL       = "http://localhost:8000/api/v1"
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Config holds the transport settings. It is fixed once the Client is built.
type Config struct {
	BaseURL string
	// Timeout bounds each attempt, not the whole call including retries.
	Timeout time.Duration
	// RetryAttempts is the number of retries after a network-level fault.
	RetryAttempts int
	// RetryDelay is multiplied by the retry number to get the wait before it.
	RetryDelay time.Duration
}

// DefaultConfig returns the settings used for every field left unset.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
}

// merge returns c with every non-zero field of override applied. A zero
// RetryAttempts cannot be expressed here; use WithNetworkRetry to disable retries.
func (c Config) merge(override Config) Config {
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.Timeout > 0 {
		c.Timeout = override.Timeout
	}
	if override.RetryAttempts > 0 {
		c.RetryAttempts = override.RetryAttempts
	}
	if override.RetryDelay > 0 {
		c.RetryDelay = override.RetryDelay
	}
	return c
}
