package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// New creates a new rate limiter based on the configuration
func New(config Config, redisClient RedisInterface) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case BackendRedis:
		return NewDistributedLimiter(config, redisClient, nil)
	default:
		return NewLocalLimiter(config)
	}
}

// HTTPMiddleware rejects requests over the limit with 429
func HTTPMiddleware(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), keyFunc(r)) {
				if rps, ok := limiter.Stats()["requests_per_second"].(int); ok {
					w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rps))
				}
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey keys requests by the connecting peer's address. Proxy headers are
// ignored because any client can set them.
func IPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ParseTrustedProxies parses IP addresses and CIDR ranges
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// TrustedProxyKey keys requests by client address. X-Forwarded-For and
// X-Real-IP are honoured only when the connecting peer is in trusted; the key
// is then the right-most forwarded address that is not itself a trusted proxy.
// With no trusted proxies it behaves like IPKey.
func TrustedProxyKey(trusted []*net.IPNet) func(*http.Request) string {
	isTrusted := func(addr string) bool {
		ip := net.ParseIP(addr)
		if ip == nil {
			return false
		}
		for _, n := range trusted {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := IPKey(r)
		if len(trusted) == 0 || !isTrusted(peer) {
			return peer
		}

		if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
			hops := strings.Split(strings.Join(forwarded, ","), ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if net.ParseIP(hop) == nil {
					break
				}
				if !isTrusted(hop) {
					return hop
				}
			}
		}

		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
		return peer
	}
}
