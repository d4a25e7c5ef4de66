package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRateLimit(t *testing.T) {
	rdb := testRedis(t)
	userID := "ratelimit-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { rdb.Del(context.Background(), "ratelimit:test:"+userID) })

	rl := NewRateLimiter(rdb)
	app := fiber.New()
	app.Get("/x", func(c *fiber.Ctx) error {
		c.Locals("userId", userID)
		return c.Next()
	}, rl.Limit("test", 2, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/x", nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "request %d", i+1)
	}

	ttl, err := rdb.TTL(context.Background(), "ratelimit:test:"+userID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRateLimit_Anonymous(t *testing.T) {
	rl := NewRateLimiter(redis.NewClient(&redis.Options{Addr: "localhost:1"}))
	app := fiber.New()
	app.Get("/x", rl.GenerationLimit(1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/x", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
