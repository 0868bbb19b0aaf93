package api

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"stationbook/internal/metrics"
	"stationbook/shared/access"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const principalKey = "principal"

// principalFrom returns the principal set by JWTAuth, or the zero value.
func principalFrom(c echo.Context) (access.Principal, bool) {
	p, ok := c.Get(principalKey).(access.Principal)
	return p, ok
}

// parseToken validates an HS256 bearer token and extracts sub and role.
func parseToken(secret, raw string) (access.Principal, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return access.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return access.Principal{}, fmt.Errorf("invalid claims")
	}
	sub, _ := claims.GetSubject()
	role, _ := claims["role"].(string)
	p := access.Principal{ID: sub, Role: access.Role(role)}
	if p.ID == "" || !p.Role.Valid() {
		return access.Principal{}, fmt.Errorf("token must carry sub and a known role")
	}
	return p, nil
}

func bearer(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

func setPrincipal(c echo.Context, p access.Principal) {
	c.Set(principalKey, p)
	c.SetRequest(c.Request().WithContext(access.WithPrincipal(c.Request().Context(), p)))
}

// JWTAuth validates a Bearer access token and stores the principal in the context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			p, err := parseToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

// optionalAuth attaches a principal when a valid token is present.
func optionalAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if raw, ok := bearer(c); ok {
				if p, err := parseToken(secret, raw); err == nil {
					setPrincipal(c, p)
				}
			}
			return next(c)
		}
	}
}

// RequireRole enforces that the authenticated principal has one of roles.
func RequireRole(roles ...access.Role) echo.MiddlewareFunc {
	allowed := make(map[access.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := principalFrom(c)
			if !ok || !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// APIKeyAuth protects service-to-service callbacks with a shared X-API-Key.
func APIKeyAuth(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("X-API-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid api key"})
			}
			setPrincipal(c, access.System)
			return next(c)
		}
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per principal, falling back to the client IP.
func rateLimiter(cfg RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.RequestsPerSecond))
	}

	var mu sync.Mutex
	buckets := make(map[string]*limiterEntry)
	lastSweep := time.Now()

	get := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastSweep) > 10*time.Minute {
			for k, e := range buckets {
				if now.Sub(e.lastSeen) > 10*time.Minute {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}
		e, ok := buckets[key]
		if !ok {
			e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
			buckets[key] = e
		}
		e.lastSeen = now
		return e.limiter
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if raw, ok := bearer(c); ok {
				// The limiter runs before authentication, so the token stands in for the principal.
				key = "tok:" + raw
			}

			now := time.Now()
			res := get(key, now).ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)
				secs := int(math.Ceil(delay.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// requestLogger logs each request and records the HTTP metric.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			metrics.IncHTTPRequest(route, status)

			ev := logger.Debug()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("method", c.Request().Method).
				Str("route", route).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("HTTP request")
			return nil
		}
	}
}
