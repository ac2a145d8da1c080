package session

import "time"

// tokenBucket refills rate tokens per second up to rate*burst.
type tokenBucket struct {
	rate   int64
	tokens int64
	max    int64
}

func newTokenBucket(rate int64, burstSeconds int64) tokenBucket {
	if rate <= 0 {
		return tokenBucket{}
	}
	return tokenBucket{rate: rate, tokens: rate * burstSeconds, max: rate * burstSeconds}
}

func (b *tokenBucket) enabled() bool { return b.rate > 0 }

func (b *tokenBucket) refill(elapsed time.Duration) {
	if !b.enabled() {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens = min(b.tokens+add, b.max)
}

// inboundLimiter caps inbound media chunks per second and bytes per second.
// A nil limiter allows everything.
type inboundLimiter struct {
	now        func() time.Time
	chunks     tokenBucket
	bytes      tokenBucket
	lastRefill time.Time
}

func newInboundLimiter(now func() time.Time, chunksPerSecond int, bytesPerSecond int64, burstSeconds int) *inboundLimiter {
	if chunksPerSecond <= 0 && bytesPerSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &inboundLimiter{
		now:        now,
		chunks:     newTokenBucket(int64(chunksPerSecond), int64(burstSeconds)),
		bytes:      newTokenBucket(bytesPerSecond, int64(burstSeconds)),
		lastRefill: now(),
	}
}

// Allow consumes one chunk of n bytes and reports whether it fits.
func (l *inboundLimiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.lastRefill); elapsed > 0 {
		l.chunks.refill(elapsed)
		l.bytes.refill(elapsed)
		l.lastRefill = now
	}

	n = max(n, 0)
	if l.chunks.enabled() && l.chunks.tokens < 1 {
		return false
	}
	if l.bytes.enabled() && l.bytes.tokens < int64(n) {
		return false
	}
	if l.chunks.enabled() {
		l.chunks.tokens--
	}
	if l.bytes.enabled() {
		l.bytes.tokens -= int64(n)
	}
	return true
}
