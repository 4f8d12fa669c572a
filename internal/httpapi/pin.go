package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ManagerPINHeader carries the PIN guarding destructive maintenance routes.
const ManagerPINHeader = "X-Manager-PIN"

var (
	errPINDisabled = errors.New("manager PIN is not configured")
	errPINInvalid  = errors.New("invalid manager PIN")
	errPINLimited  = errors.New("too many PIN attempts, try again later")
)

// pinGuard only ever keeps the bcrypt hash of the configured PIN.
type pinGuard struct {
	hash    []byte
	limiter *attemptLimiter
}

func newPINGuard(pin string, limiter *attemptLimiter) (*pinGuard, error) {
	g := &pinGuard{limiter: limiter}
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return g, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	g.hash = hash
	return g, nil
}

// check returns the status to answer with and the reason, or 0 when the
// supplied PIN matches. Only failures count towards the lockout.
func (g *pinGuard) check(client string, supplied string) (int, error) {
	if len(g.hash) == 0 {
		return http.StatusForbidden, errPINDisabled
	}
	if g.limiter.Locked(client) {
		return http.StatusTooManyRequests, errPINLimited
	}
	supplied = strings.TrimSpace(supplied)
	if supplied == "" || bcrypt.CompareHashAndPassword(g.hash, []byte(supplied)) != nil {
		g.limiter.Fail(client)
		return http.StatusUnauthorized, errPINInvalid
	}
	g.limiter.Reset(client)
	return 0, nil
}

// attemptLimiter locks a client out after max failures inside a sliding
// window.
type attemptLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	now      func() time.Time
	failures map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, now: time.Now, failures: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Locked(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(client)) >= l.max
}

func (l *attemptLimiter) Fail(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[client] = append(l.recentLocked(client), l.now())
}

func (l *attemptLimiter) Reset(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, client)
}

// recentLocked drops failures older than the window and returns the rest.
func (l *attemptLimiter) recentLocked(client string) []time.Time {
	cutoff := l.now().Add(-l.window)
	history := l.failures[client]
	kept := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, client)
		return nil
	}
	l.failures[client] = kept
	return kept
}
