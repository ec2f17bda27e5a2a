// Package gin provides Gin middleware that charges requests to the API quota ledger
package gin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/viralboard/membersync/pkg/ledger"
)

// KeyExtractor extracts the ledger key (session or user ID) from a Gin context
// Return empty string if the caller is not authenticated
type KeyExtractor func(c *gongin.Context) string

// KindExtractor names the kind of usage for log coalescing
type KindExtractor func(c *gongin.Context) string

// CostExtractor calculates the cost to charge for the request
type CostExtractor func(c *gongin.Context) (int, error)

// Config holds middleware configuration
type Config struct {
	// Ledgers holds one ledger per key (required)
	Ledgers *ledger.Registry

	// GetKey extracts the ledger key from context (required)
	GetKey KeyExtractor

	// GetKind names the usage kind (default: FromRoute())
	GetKind KindExtractor

	// GetCost calculates the cost (default: FixedCost(1))
	GetCost CostExtractor

	// QuotaExceededStatusCode is the HTTP status code to return when the budget is exhausted
	// Default: 429 (Too Many Requests)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the daily budget does not cover the cost
	// If nil, uses default response: QuotaExceededStatusCode JSON with usage info
	OnQuotaExceeded func(c *gongin.Context, usage ledger.Usage)

	// OnUnauthorized is called when no key could be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the cost cannot be determined
	// If nil, returns 400 Bad Request
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that enforces the daily quota
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledgers == nil {
		panic("membersync/gin: Config.Ledgers is required")
	}
	if cfg.GetKey == nil {
		panic("membersync/gin: Config.GetKey is required")
	}

	if cfg.GetKind == nil {
		cfg.GetKind = FromRoute()
	}
	if cfg.GetCost == nil {
		cfg.GetCost = FixedCost(1)
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusTooManyRequests
	}

	return func(c *gongin.Context) {
		key := cfg.GetKey(c)
		if key == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		cost, err := cfg.GetCost(c)
		if err == nil && cost < 0 {
			err = fmt.Errorf("invalid cost: %d", cost)
		}
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusBadRequest, gongin.H{"error": "Bad Request"})
			}
			c.Abort()
			return
		}

		usage, err := cfg.Ledgers.Get(key).Consume(cfg.GetKind(c), cost)
		setQuotaHeaders(c, usage)
		if errors.Is(err, ledger.ErrQuotaExceeded) {
			if cfg.OnQuotaExceeded != nil {
				cfg.OnQuotaExceeded(c, usage)
			} else {
				c.JSON(cfg.QuotaExceededStatusCode, gongin.H{
					"error":    "Quota exceeded",
					"used":     usage.Used,
					"limit":    usage.Limit,
					"reset_at": usage.ResetAt,
				})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

func setQuotaHeaders(c *gongin.Context, usage ledger.Usage) {
	c.Header("X-Quota-Limit", strconv.Itoa(usage.Limit))
	c.Header("X-Quota-Remaining", strconv.Itoa(usage.Remaining))
	c.Header("X-Quota-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))
}

// Convenience extractors for the ledger key

// FromContext returns a KeyExtractor that gets the key from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// session information via c.Set("SessionID", "...") or similar.
func FromContext(key string) KeyExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a KeyExtractor that gets the key from a header
func FromHeader(headerName string) KeyExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromQuery returns a KeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) KeyExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}

// Convenience extractors for kind and cost

// FixedKind returns a KindExtractor that always returns kind
func FixedKind(kind string) KindExtractor {
	return func(*gongin.Context) string {
		return kind
	}
}

// FromRoute returns a KindExtractor that uses the matched route pattern
func FromRoute() KindExtractor {
	return func(c *gongin.Context) string {
		return c.FullPath()
	}
}

// FixedCost returns a CostExtractor that always returns cost
func FixedCost(cost int) CostExtractor {
	return func(*gongin.Context) (int, error) {
		return cost, nil
	}
}

// DynamicCost returns a CostExtractor that calculates cost based on a function
func DynamicCost(costFunc func(*gongin.Context) int) CostExtractor {
	return func(c *gongin.Context) (int, error) {
		return costFunc(c), nil
	}
}
