package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cypherpunk-tipjar/tipjar/internal/metrics"
)

type clientWindow struct {
	start time.Time
	count int
}

// RateLimiter admits at most max requests per client in each fixed window.
// A client's window opens on its first request and resets once it elapses.
type RateLimiter struct {
	max       int
	window    time.Duration
	mu        sync.Mutex
	visitors  map[string]*clientWindow
	lastSweep time.Time
	clockNow  func() time.Time

	log      logrus.FieldLogger
	logEvery rate.Sometimes
}

func NewRateLimiter(requests int, per time.Duration, log logrus.FieldLogger) *RateLimiter {
	if requests <= 0 {
		requests = 10
	}
	if per <= 0 {
		per = time.Minute
	}
	return &RateLimiter{
		max:      requests,
		window:   per,
		visitors: make(map[string]*clientWindow),
		clockNow: time.Now,
		log:      log,
		logEvery: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Middleware rejects over-limit requests with 429. OPTIONS is never limited.
// Clients are keyed by gin's ClientIP, so forwarding headers only count when
// the peer is a trusted proxy.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		id := c.ClientIP()
		if wait, ok := r.allow(id, r.clockNow()); !ok {
			metrics.RateLimited.Inc()
			if r.log != nil {
				r.logEvery.Do(func() {
					r.log.WithField("clientIP", id).Warn("rate limit exceeded")
				})
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}
		c.Next()
	}
}

// allow counts one request for id. When the window is full it returns the
// time left until the window ends.
func (r *RateLimiter) allow(id string, now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) > r.window {
		for k, w := range r.visitors {
			if now.Sub(w.start) >= r.window {
				delete(r.visitors, k)
			}
		}
		r.lastSweep = now
	}

	w, ok := r.visitors[id]
	if !ok || now.Sub(w.start) >= r.window {
		w = &clientWindow{start: now}
		r.visitors[id] = w
	}
	if w.count >= r.max {
		return w.start.Add(r.window).Sub(now), false
	}
	w.count++
	return 0, true
}
