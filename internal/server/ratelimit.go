package server

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/retrieve-go/internal/logging"
)

// Per-client defaults for /v1/* when Config leaves them unset.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

const (
	// clientIdleTTL is how long a client's bucket survives without requests.
	clientIdleTTL = 5 * time.Minute
	sweepInterval = time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// admission hands out one token bucket per client address.
type admission struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// newAdmission starts the idle-bucket sweeper; the returned function stops it.
func newAdmission(perSecond float64, burst int) (*admission, func()) {
	a := &admission{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go a.sweepEvery(ctx, sweepInterval)
	return a, cancel
}

// reserve takes a token for client. When none is available it reports the
// wait until the next one and leaves the bucket untouched.
func (a *admission) reserve(client string) (time.Duration, bool) {
	now := a.now()

	a.mu.Lock()
	b, ok := a.buckets[client]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(a.limit, a.burst)}
		a.buckets[client] = b
	}
	b.seen = now
	a.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return 0, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// sweep drops buckets idle since before now-clientIdleTTL and returns how
// many were removed.
func (a *admission) sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-clientIdleTTL)
	removed := 0
	for client, b := range a.buckets {
		if b.seen.Before(cutoff) {
			delete(a.buckets, client)
			removed++
		}
	}
	return removed
}

func (a *admission) sweepEvery(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sweep(a.now())
		}
	}
}

// middleware rejects a client that has exhausted its bucket with 429 and a
// Retry-After naming the whole seconds until its next token.
func (a *admission) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		wait, ok := a.reserve(client)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := retryAfterSeconds(wait)
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String("path", r.URL.Path),
			slog.Int("retry_after_s", retry),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeErrorCode(w, r, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
	})
}

// retryAfterSeconds rounds wait up to whole seconds, never below one.
func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientIP is the host part of RemoteAddr. X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
