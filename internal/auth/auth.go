// internal/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrUnauthorized = errors.New("invalid credentials")
	ErrThrottled    = errors.New("too many failed attempts")
)

type callerKey struct{}

// WithCaller returns a context carrying the admitted caller's name.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey{}, name)
}

// CallerFrom returns the caller admitted by the middleware, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerKey{}).(string)
	return name, ok && name != ""
}

// ParseCredentials reads comma-separated name:hash entries.
func ParseCredentials(s string) (map[string]string, error) {
	creds := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("credential entry %q is not name:hash", entry)
		}
		if _, dup := creds[name]; dup {
			return nil, fmt.Errorf("credential %q listed twice", name)
		}
		creds[name] = hash
	}
	return creds, nil
}

// Authenticator checks HTTP Basic credentials. Failed attempts drain a token
// bucket kept per client address; a client whose bucket is empty is refused
// until it refills, while other clients are unaffected.
type Authenticator struct {
	credentials map[string]string
	logger      *zap.Logger

	mu       sync.Mutex
	failures map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// maxTrackedClients bounds the failure buckets kept before refilled ones
// are dropped.
const maxTrackedClients = 4096

// NewAuthenticator allows failuresPerMinute failed attempts per minute for
// each client.
func NewAuthenticator(credentials map[string]string, failuresPerMinute int, logger *zap.Logger) *Authenticator {
	if failuresPerMinute <= 0 {
		failuresPerMinute = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		credentials: credentials,
		logger:      logger,
		failures:    make(map[string]*rate.Limiter),
		limit:       rate.Every(time.Minute / time.Duration(failuresPerMinute)),
		burst:       failuresPerMinute,
	}
}

// Authenticate returns nil when password matches the stored hash for name.
// client identifies where the attempt came from.
func (a *Authenticator) Authenticate(client, name, password string) error {
	failures := a.bucket(client)
	if failures.Tokens() < 1 {
		return ErrThrottled
	}

	hash, ok := a.credentials[name]
	if ok {
		match, err := VerifyPassword(password, hash)
		if err != nil {
			a.logger.Error("stored credential is unreadable", zap.String("caller", name), zap.Error(err))
		}
		if match {
			return nil
		}
	}

	failures.Allow()
	return ErrUnauthorized
}

func (a *Authenticator) bucket(client string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	if l, ok := a.failures[client]; ok {
		return l
	}
	if len(a.failures) >= maxTrackedClients {
		for key, l := range a.failures {
			if l.Tokens() >= float64(a.burst) {
				delete(a.failures, key)
			}
		}
	}
	l := rate.NewLimiter(a.limit, a.burst)
	a.failures[client] = l
	return l
}

// clientAddr is the request's remote host, without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware admits requests with valid Basic credentials and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="libralend"`)
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}

		client := clientAddr(r)
		switch err := a.Authenticate(client, name, password); {
		case errors.Is(err, ErrThrottled):
			a.logger.Warn("authentication throttled", zap.String("caller", name), zap.String("client", client))
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		case err != nil:
			a.logger.Info("authentication failed", zap.String("caller", name))
			w.Header().Set("WWW-Authenticate", `Basic realm="libralend"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), name)))
	})
}
