package api

import (
	"fmt"
	"net/http"

	"github.com/viralboard/membersync/pkg/ledger"
	"github.com/viralboard/membersync/pkg/membersync"
)

const defaultMaxUploadBytes = 10 << 20

// Config holds configuration for the API handler
type Config struct {
	// Manager is the membersync manager instance (required)
	Manager *membersync.Manager

	// GetUserID extracts the authenticated account UID from HTTP request (required)
	GetUserID func(*http.Request) string

	// IsAdmin gates the /admin routes (required)
	IsAdmin func(*http.Request) bool

	// GetSessionID extracts the session used for one-shot notifications.
	// If nil, the X-Session-ID header is used.
	GetSessionID func(*http.Request) string

	// Ledgers optionally tracks API usage. When set, /me/sync and
	// /me/entitlement align the caller's ledger limit with the plan.
	Ledgers *ledger.Registry

	// MaxUploadBytes caps a roster upload (default: 10 MiB)
	MaxUploadBytes int64

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger records request failures (default: NoopLogger)
	Logger membersync.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	if c.IsAdmin == nil {
		return fmt.Errorf("isAdmin is required")
	}
	return nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a function that extracts a value from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a function that extracts a string from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if v, ok := r.Context().Value(key).(string); ok {
			return v
		}
		return ""
	}
}
