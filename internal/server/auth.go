package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/pagegate/pagegate/internal/errors"
	"github.com/pagegate/pagegate/internal/observability"
)

// AccessPinHeader carries the shared secret when no bearer token is sent.
const AccessPinHeader = "X-Access-Pin"

const (
	defaultAttemptsPerMinute = 10
	attemptIdleTTL           = 10 * time.Minute
)

// AuthGate checks the shared secret on every request it wraps. Failed attempts
// are limited per client address; a client over its budget is refused before
// the secret is compared.
type AuthGate struct {
	pin   []byte
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*attemptBudget
	lastPrune time.Time
}

type attemptBudget struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthGate returns a gate for pin. An empty pin disables the gate.
func NewAuthGate(pin string, attemptsPerMinute int) *AuthGate {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = defaultAttemptsPerMinute
	}
	return &AuthGate{
		pin:     []byte(strings.TrimSpace(pin)),
		limit:   rate.Every(time.Minute / time.Duration(attemptsPerMinute)),
		burst:   attemptsPerMinute,
		now:     time.Now,
		clients: make(map[string]*attemptBudget),
	}
}

// Enabled reports whether a pin is configured.
func (g *AuthGate) Enabled() bool {
	return g != nil && len(g.pin) > 0
}

// Middleware enforces the gate.
func (g *AuthGate) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		budget := g.budget(clientAddr(r))
		if budget.Tokens() < 1 {
			HandleError(w, r, apperrors.NewTooManyAttemptsError("too many failed access attempts"))
			return
		}

		presented := presentedPin(r)
		if subtle.ConstantTimeCompare([]byte(presented), g.pin) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		budget.Allow()
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Rejected API request",
				zap.String("remote", clientAddr(r)),
				zap.Bool("pin_present", presented != ""))
		}
		HandleError(w, r, apperrors.NewUnauthorizedError("access pin required"))
	})
}

func (g *AuthGate) budget(addr string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastPrune) > attemptIdleTTL {
		for key, client := range g.clients {
			if now.Sub(client.lastSeen) > attemptIdleTTL {
				delete(g.clients, key)
			}
		}
		g.lastPrune = now
	}

	client, ok := g.clients[addr]
	if !ok {
		client = &attemptBudget{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.clients[addr] = client
	}
	client.lastSeen = now
	return client.limiter
}

func presentedPin(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(AccessPinHeader))
}

// clientAddr strips the port. RemoteAddr reflects forwarding headers only when the
// server trusts them.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
