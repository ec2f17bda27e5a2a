// Package fiber provides Fiber middleware that charges requests to the API quota ledger
package fiber

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/viralboard/membersync/pkg/ledger"
)

// KeyExtractor extracts the ledger key (session or user ID) from a Fiber context
// Return empty string if the caller is not authenticated
type KeyExtractor func(c *fiber.Ctx) string

// KindExtractor names the kind of usage for log coalescing
type KindExtractor func(c *fiber.Ctx) string

// CostExtractor calculates the cost to charge for the request
type CostExtractor func(c *fiber.Ctx) (int, error)

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
	OnQuotaExceeded func(c *fiber.Ctx, usage ledger.Usage) error

	// OnUnauthorized is called when no key could be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the cost cannot be determined
	// If nil, returns 400 Bad Request
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that enforces the daily quota
func Middleware(cfg Config) fiber.Handler {
	if cfg.Ledgers == nil {
		panic("membersync/fiber: Config.Ledgers is required")
	}
	if cfg.GetKey == nil {
		panic("membersync/fiber: Config.GetKey is required")
	}

	if cfg.GetKind == nil {
		cfg.GetKind = FromRoute()
	}
	if cfg.GetCost == nil {
		cfg.GetCost = FixedCost(1)
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = fiber.StatusTooManyRequests
	}

	return func(c *fiber.Ctx) error {
		key := cfg.GetKey(c)
		if key == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		cost, err := cfg.GetCost(c)
		if err == nil && cost < 0 {
			err = fmt.Errorf("invalid cost: %d", cost)
		}
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Bad Request"})
		}

		usage, err := cfg.Ledgers.Get(key).Consume(cfg.GetKind(c), cost)
		c.Set("X-Quota-Limit", strconv.Itoa(usage.Limit))
		c.Set("X-Quota-Remaining", strconv.Itoa(usage.Remaining))
		c.Set("X-Quota-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))

		if errors.Is(err, ledger.ErrQuotaExceeded) {
			if cfg.OnQuotaExceeded != nil {
				return cfg.OnQuotaExceeded(c, usage)
			}
			return c.Status(cfg.QuotaExceededStatusCode).JSON(fiber.Map{
				"error":    "Quota exceeded",
				"used":     usage.Used,
				"limit":    usage.Limit,
				"reset_at": usage.ResetAt,
			})
		}

		return c.Next()
	}
}

// Convenience extractors for the ledger key

// FromContext returns a KeyExtractor that gets the key from Fiber context values (Locals)
// set by auth middleware via c.Locals("SessionID", "...") or similar.
func FromContext(key string) KeyExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a KeyExtractor that gets the key from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) KeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromQuery returns a KeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) KeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}

// Convenience extractors for kind and cost

// FixedKind returns a KindExtractor that always returns kind
func FixedKind(kind string) KindExtractor {
	return func(*fiber.Ctx) string {
		return kind
	}
}

// FromRoute returns a KindExtractor that uses the matched route pattern
func FromRoute() KindExtractor {
	return func(c *fiber.Ctx) string {
		return c.Route().Path
	}
}

// FixedCost returns a CostExtractor that always returns cost
func FixedCost(cost int) CostExtractor {
	return func(*fiber.Ctx) (int, error) {
		return cost, nil
	}
}

// DynamicCost returns a CostExtractor that calculates cost based on a function
func DynamicCost(costFunc func(*fiber.Ctx) int) CostExtractor {
	return func(c *fiber.Ctx) (int, error) {
		return costFunc(c), nil
	}
}
