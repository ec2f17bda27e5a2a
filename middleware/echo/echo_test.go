package echo

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/viralboard/membersync/pkg/ledger"
)

func newServer(cfg Config) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(cfg))
	e.GET("/analyze/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func doRequest(e *echo.Echo, session string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/analyze/7", http.NoBody)
	if session != "" {
		req.Header.Set("X-Session-ID", session)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Success(t *testing.T) {
	ledgers := ledger.NewRegistry(ledger.Config{Limit: 10}, nil)
	e := newServer(Config{Ledgers: ledgers, GetKey: FromHeader("X-Session-ID"), GetCost: FixedCost(4)})

	rec := doRequest(e, "s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Quota-Remaining"); got != "6" {
		t.Errorf("Expected X-Quota-Remaining 6, got %q", got)
	}
	if got := ledgers.Get("s1").Usage().Used; got != 4 {
		t.Errorf("Expected 4 used, got %d", got)
	}
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	ledgers := ledger.NewRegistry(ledger.Config{Limit: 2}, nil)
	e := newServer(Config{Ledgers: ledgers, GetKey: FromHeader("X-Session-ID"), GetCost: FixedCost(2)})

	if rec := doRequest(e, "s1"); rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	rec := doRequest(e, "s1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("Expected X-Quota-Remaining 0, got %q", got)
	}
}

func TestMiddleware_CustomQuotaExceeded(t *testing.T) {
	ledgers := ledger.NewRegistry(ledger.Config{Limit: 1}, nil)
	e := newServer(Config{
		Ledgers: ledgers,
		GetKey:  FromHeader("X-Session-ID"),
		GetCost: FixedCost(3),
		OnQuotaExceeded: func(c echo.Context, usage ledger.Usage) error {
			return c.String(http.StatusForbidden, "upgrade your plan")
		},
	})

	rec := doRequest(e, "s1")
	if rec.Code != http.StatusForbidden || rec.Body.String() != "upgrade your plan" {
		t.Errorf("Unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	e := newServer(Config{Ledgers: ledger.NewRegistry(ledger.Config{}, nil), GetKey: FromHeader("X-Session-ID")})

	if rec := doRequest(e, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_CostError(t *testing.T) {
	e := newServer(Config{
		Ledgers: ledger.NewRegistry(ledger.Config{}, nil),
		GetKey:  FromHeader("X-Session-ID"),
		GetCost: func(echo.Context) (int, error) { return 0, errors.New("bad") },
	})

	if rec := doRequest(e, "s1"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	ledgers := ledger.NewRegistry(ledger.Config{Limit: 1}, nil)
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("SessionID", "from-auth")
			return next(c)
		}
	})
	e.Use(Middleware(Config{Ledgers: ledgers, GetKey: FromContext("SessionID"), GetKind: FixedKind("analysis")}))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
	if ledgers.Get("from-auth").Remaining() != 0 {
		t.Error("Expected the context key to be charged")
	}
}
