// Package http provides HTTP middleware that charges requests to the API quota ledger
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/viralboard/membersync/pkg/ledger"
)

// KeyExtractor extracts the ledger key (session or user ID) from an HTTP request
// Return empty string if the caller is not authenticated
type KeyExtractor func(r *http.Request) string

// KindExtractor names the kind of usage for log coalescing
// For example: "analysis", "transcript"
type KindExtractor func(r *http.Request) string

// CostExtractor calculates the cost to charge for the request
type CostExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration
type Config struct {
	// Ledgers holds one ledger per key (required)
	Ledgers *ledger.Registry

	// GetKey extracts the ledger key from request (required)
	GetKey KeyExtractor

	// GetKind names the usage kind (default: FixedKind("api"))
	GetKind KindExtractor

	// GetCost calculates the cost (default: FixedCost(1))
	GetCost CostExtractor

	// OnQuotaExceeded is called when the daily budget does not cover the cost
	// If nil, returns 429 Too Many Requests
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, usage ledger.Usage)

	// OnUnauthorized is called when no key could be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the cost cannot be determined
	// If nil, returns 400 Bad Request
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that enforces the daily quota
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Ledgers == nil {
		panic("membersync/http: Config.Ledgers is required")
	}
	if config.GetKey == nil {
		panic("membersync/http: Config.GetKey is required")
	}
	if config.GetKind == nil {
		config.GetKind = FixedKind("api")
	}
	if config.GetCost == nil {
		config.GetCost = FixedCost(1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.GetKey(r)
			if key == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			cost, err := config.GetCost(r)
			if err == nil && cost < 0 {
				err = fmt.Errorf("invalid cost: %d", cost)
			}
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Bad Request", http.StatusBadRequest)
				}
				return
			}

			usage, err := config.Ledgers.Get(key).Consume(config.GetKind(r), cost)
			SetQuotaHeaders(w.Header(), usage)
			if errors.Is(err, ledger.ErrQuotaExceeded) {
				if config.OnQuotaExceeded != nil {
					config.OnQuotaExceeded(w, r, usage)
				} else {
					defaultQuotaExceeded(w, usage)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces the daily quota (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// SetQuotaHeaders writes the X-Quota-* headers describing usage
func SetQuotaHeaders(h http.Header, usage ledger.Usage) {
	h.Set("X-Quota-Limit", strconv.Itoa(usage.Limit))
	h.Set("X-Quota-Remaining", strconv.Itoa(usage.Remaining))
	h.Set("X-Quota-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))
}

func defaultQuotaExceeded(w http.ResponseWriter, usage ledger.Usage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // Response already started
		"error":    "Quota exceeded",
		"used":     usage.Used,
		"limit":    usage.Limit,
		"reset_at": usage.ResetAt,
	})
}

// Common extractors for convenience

// FixedKind returns a KindExtractor that always returns kind
func FixedKind(kind string) KindExtractor {
	return func(*http.Request) string {
		return kind
	}
}

// FromPath returns a KindExtractor that uses the request path
func FromPath() KindExtractor {
	return func(r *http.Request) string {
		return r.URL.Path
	}
}

// FixedCost returns a CostExtractor that always returns cost
func FixedCost(cost int) CostExtractor {
	return func(*http.Request) (int, error) {
		return cost, nil
	}
}

// BodyLength returns a CostExtractor that charges one unit per size bytes of
// request body, rounded up. The body is restored for the next handler.
func BodyLength(size int) CostExtractor {
	if size <= 0 {
		size = 1
	}
	return func(r *http.Request) (int, error) {
		if r.Body == nil {
			return 0, nil
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return 0, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		return (len(body) + size - 1) / size, nil
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// SessionKey is the context key for the ledger key
	SessionKey ContextKey = "membersync:session"
)

// FromContext returns a KeyExtractor that gets the key from request context
func FromContext(key ContextKey) KeyExtractor {
	return func(r *http.Request) string {
		if v, ok := r.Context().Value(key).(string); ok {
			return v
		}
		return ""
	}
}

// FromHeader returns a KeyExtractor that gets the key from a header
func FromHeader(headerName string) KeyExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithSession adds the ledger key to request context
func WithSession(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, SessionKey, key)
}
