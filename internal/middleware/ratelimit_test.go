package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiterBlocksBurstOverflow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimiter(1, 1))
	router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Contains(t, w2.Body.String(), "rate_limited")
}

func TestRateLimiterDefaultsOnZeroInputs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimiter(0, 0))
	router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTTLLimiterCacheReusesAndSweeps(t *testing.T) {
	cache := newTTLLimiterCache(10 * time.Millisecond)
	makeFn := func() *rate.Limiter { return rate.NewLimiter(1, 1) }

	first := cache.get("a", makeFn)
	assert.Same(t, first, cache.get("a", makeFn))

	cache.mu.Lock()
	cache.items["a"].lastSeen = time.Now().Add(-time.Minute)
	cache.sweepLocked(time.Now())
	_, stillThere := cache.items["a"]
	cache.mu.Unlock()
	assert.False(t, stillThere)
}
