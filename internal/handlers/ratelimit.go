package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mrkniai/backend/internal/auth"
)

// RateLimiter is the minimal interface required to guard expensive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest keys authenticated callers by user id and anonymous ones by address.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(rateLimitKey(r, scope))
}

func rateLimitKey(r *http.Request, scope string) string {
	key := ""
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		key = "user:" + id.UserID
	} else {
		key = "ip:" + clientIP(r)
	}
	if scope == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", scope, key)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
