package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweep = 5 * time.Minute
	limiterIdle  = 10 * time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// buckets holds one token bucket per client address.
type buckets struct {
	mu    sync.Mutex
	byIP  map[string]*bucket
	rps   rate.Limit
	burst int
}

func (b *buckets) take(ip string, now time.Time) *bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.byIP[ip]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.rps, b.burst)}
		b.byIP[ip] = bk
	}
	bk.seen = now
	return bk
}

func (b *buckets) forget(idle time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, bk := range b.byIP {
		if now.Sub(bk.seen) > idle {
			delete(b.byIP, ip)
		}
	}
}

// RateLimiter throttles each client address to rps requests per second with
// bursts of up to burst. Refused requests get 429 with a Retry-After in whole
// seconds. Idle clients are dropped periodically until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	b := &buckets{byIP: make(map[string]*bucket), rps: rate.Limit(rps), burst: burst}

	go func() {
		t := time.NewTicker(limiterSweep)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				b.forget(limiterIdle, now)
			}
		}
	}()

	return func(c *gin.Context) {
		now := time.Now()
		bk := b.take(c.ClientIP(), now)
		if bk.lim.AllowN(now, 1) {
			c.Next()
			return
		}
		wait := 1
		if rps > 0 {
			wait = int(math.Ceil(1 / float64(rps)))
		}
		c.Header("Retry-After", strconv.Itoa(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "too many requests from " + c.ClientIP(),
			"code":  "RATE_LIMITED",
		})
	}
}
