// Package echo provides Echo middleware that charges requests to the API quota ledger
package echo

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/viralboard/membersync/pkg/ledger"
)

// KeyExtractor extracts the ledger key (session or user ID) from an Echo context
// Return empty string if the caller is not authenticated
type KeyExtractor func(c echo.Context) string

// KindExtractor names the kind of usage for log coalescing
type KindExtractor func(c echo.Context) string

// CostExtractor calculates the cost to charge for the request
type CostExtractor func(c echo.Context) (int, error)

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
	OnQuotaExceeded func(c echo.Context, usage ledger.Usage) error

	// OnUnauthorized is called when no key could be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the cost cannot be determined
	// If nil, returns 400 Bad Request
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that enforces the daily quota
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Ledgers == nil {
		panic("membersync/echo: Config.Ledgers is required")
	}
	if cfg.GetKey == nil {
		panic("membersync/echo: Config.GetKey is required")
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

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.GetKey(c)
			if key == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			cost, err := cfg.GetCost(c)
			if err == nil && cost < 0 {
				err = fmt.Errorf("invalid cost: %d", cost)
			}
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "Bad Request"})
			}

			usage, err := cfg.Ledgers.Get(key).Consume(cfg.GetKind(c), cost)
			h := c.Response().Header()
			h.Set("X-Quota-Limit", strconv.Itoa(usage.Limit))
			h.Set("X-Quota-Remaining", strconv.Itoa(usage.Remaining))
			h.Set("X-Quota-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))

			if errors.Is(err, ledger.ErrQuotaExceeded) {
				if cfg.OnQuotaExceeded != nil {
					return cfg.OnQuotaExceeded(c, usage)
				}
				return c.JSON(cfg.QuotaExceededStatusCode, map[string]interface{}{
					"error":    "Quota exceeded",
					"used":     usage.Used,
					"limit":    usage.Limit,
					"reset_at": usage.ResetAt,
				})
			}

			return next(c)
		}
	}
}

// Convenience extractors for the ledger key

// FromContext returns a KeyExtractor that gets the key from Echo context values
// set by auth middleware via c.Set("SessionID", "...") or similar.
func FromContext(key string) KeyExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a KeyExtractor that gets the key from a header
func FromHeader(headerName string) KeyExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromQuery returns a KeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) KeyExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}

// Convenience extractors for kind and cost

// FixedKind returns a KindExtractor that always returns kind
func FixedKind(kind string) KindExtractor {
	return func(echo.Context) string {
		return kind
	}
}

// FromRoute returns a KindExtractor that uses the matched route pattern
func FromRoute() KindExtractor {
	return func(c echo.Context) string {
		return c.Path()
	}
}

// FixedCost returns a CostExtractor that always returns cost
func FixedCost(cost int) CostExtractor {
	return func(echo.Context) (int, error) {
		return cost, nil
	}
}

// DynamicCost returns a CostExtractor that calculates cost based on a function
func DynamicCost(costFunc func(echo.Context) int) CostExtractor {
	return func(c echo.Context) (int, error) {
		return costFunc(c), nil
	}
}
