package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/api/validators"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

// RateLimitStore counts hits in a fixed window.
type RateLimitStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope, id string) string
}

type RateLimitPolicy struct {
	Name       string
	Window     time.Duration
	IPLimit    int
	EmailLimit int

	// TrustedProxies are the only peers whose forwarding headers are read.
	TrustedProxies []netip.Prefix
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.EmailLimit > 0)
}

func (p RateLimitPolicy) scope(kind string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "checkout"
	}
	return name + "-" + kind
}

// CheckoutRateLimit throttles order creation per client IP and per hashed
// customer email. Guests are limited on IP alone when no email is supplied.
func CheckoutRateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if ip := clientIP(r, policy.TrustedProxies); policy.IPLimit > 0 && ip != "" {
				if !allowRequest(ctx, w, logg, store, policy, "ip", ip, policy.IPLimit) {
					return
				}
			}

			if policy.EmailLimit > 0 && r.Body != nil {
				body, err := validators.ReadBody(w, r)
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}

				if email := customerEmail(body); email != "" {
					if !allowRequest(ctx, w, logg, store, policy, "email", hashValue(email), policy.EmailLimit) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowRequest(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, store RateLimitStore, policy RateLimitPolicy, kind, id string, limit int) bool {
	count, err := store.IncrWithTTL(ctx, store.RateLimitKey(policy.scope(kind), id), policy.Window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}

	if logg != nil {
		lctx := logg.WithFields(ctx, map[string]any{
			"scope":          policy.scope(kind),
			"subject":        id,
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.Window.Seconds()),
		})
		logg.Warn(lctx, "checkout.rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

// clientIP is the peer address unless the peer is a trusted proxy. Behind a
// trusted proxy, X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins; X-Real-IP is the fallback.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func customerEmail(payload []byte) string {
	var body struct {
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Customer.Email))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
