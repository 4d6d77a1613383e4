package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxLoginFailures is how many failed logins an IP gets per window
	MaxLoginFailures = 5
	// LoginWindow is how long failed logins are remembered
	LoginWindow = 15 * time.Minute
)

// LoginGuard tracks failed login attempts by IP address
type LoginGuard struct {
	attempts map[string]*loginAttempts
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

type loginAttempts struct {
	count        int
	firstAttempt time.Time
}

// NewLoginGuard creates a guard and starts its cleanup loop
func NewLoginGuard() *LoginGuard {
	g := &LoginGuard{
		attempts: make(map[string]*loginAttempts),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// AllowLogin reports whether ip may try to log in
func (g *LoginGuard) AllowLogin(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.current(ip)
	return a == nil || a.count < MaxLoginFailures
}

// RecordFailure counts a failed login from ip
func (g *LoginGuard) RecordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a := g.current(ip); a != nil {
		a.count++
		return
	}
	g.attempts[ip] = &loginAttempts{count: 1, firstAttempt: g.now()}
}

// Reset forgets ip's failures, called on a successful login
func (g *LoginGuard) Reset(ip string) {
	g.mu.Lock()
	delete(g.attempts, ip)
	g.mu.Unlock()
}

// Failures returns the failures counted for ip in the current window
func (g *LoginGuard) Failures(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a := g.current(ip); a != nil {
		return a.count
	}
	return 0
}

// Stop ends the cleanup loop
func (g *LoginGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// current returns ip's attempts if its window is still open. Caller holds mu.
func (g *LoginGuard) current(ip string) *loginAttempts {
	a, ok := g.attempts[ip]
	if !ok {
		return nil
	}
	if g.now().Sub(a.firstAttempt) > LoginWindow {
		delete(g.attempts, ip)
		return nil
	}
	return a
}

func (g *LoginGuard) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			for ip := range g.attempts {
				g.current(ip)
			}
			g.mu.Unlock()
		}
	}
}

// KeyedLimiter hands out one token bucket per key, typically a client IP.
// Buckets idle for longer than the idle timeout are dropped.
type KeyedLimiter struct {
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows burst events at once per key, refilled at limit
func NewKeyedLimiter(limit rate.Limit, burst int, idle time.Duration) *KeyedLimiter {
	l := &KeyedLimiter{
		limit:    limit,
		burst:    burst,
		idle:     idle,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether key may act now, consuming a token if so
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Len returns the number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Stop ends the cleanup loop
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *KeyedLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evict(time.Now())
		}
	}
}

func (l *KeyedLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
}
