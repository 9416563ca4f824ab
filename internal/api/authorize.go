package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// RateLimitHeaders are echoed on every authenticated response so clients
// can see their remaining quota without tripping it.
type RateLimitHeaders struct {
	Limit     int   `header:"X-RateLimit-Limit" doc:"Requests allowed per hour"`
	Remaining int   `header:"X-RateLimit-Remaining" doc:"Requests left in the current window"`
	Reset     int64 `header:"X-RateLimit-Reset" doc:"Unix time when the next request is allowed"`
}

// authorize validates the Bearer token and charges the request against the
// key's hourly quota. Unauthorized requests are not charged.
func (s *Server) authorize(ctx context.Context, authHeader string) (*domain.APIKey, RateLimitHeaders, error) {
	var quota RateLimitHeaders

	if authHeader == "" {
		return nil, quota, unauthorized("Missing authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" {
		return nil, quota, unauthorized("Invalid authorization header format")
	}

	key, err := s.keys.Validate(ctx, token)
	if err != nil {
		return nil, quota, unauthorized("Invalid or expired API key")
	}

	quota, allowed := s.meter(key.ID)
	if !allowed {
		s.logger.Warn("API key over quota", "key_id", key.ID, "limit", quota.Limit)
		return nil, quota, rateLimited(quota)
	}

	return key, quota, nil
}

// meter consumes one quota token for the key and reports the headroom left.
func (s *Server) meter(keyID string) (RateLimitHeaders, bool) {
	allowed := s.limiter.Allow(keyID)

	tokens := s.limiter.Tokens(keyID)
	if tokens < 0 {
		tokens = 0
	}

	quota := RateLimitHeaders{
		Limit:     s.quotaPerHour,
		Remaining: int(tokens),
	}

	now := time.Now()
	if tokens >= 1 {
		quota.Reset = now.Unix()
	} else {
		// Time until the bucket refills one token.
		perToken := time.Hour / time.Duration(s.quotaPerHour)
		wait := time.Duration((1 - tokens) * float64(perToken))
		quota.Reset = now.Add(wait).Unix()
	}

	return quota, allowed
}

// unauthorized builds a 401 carrying the WWW-Authenticate challenge.
func unauthorized(message string) error {
	return huma.ErrorWithHeaders(huma.Error401Unauthorized(message), http.Header{
		"WWW-Authenticate": {`Bearer realm="bookwatch"`},
	})
}

// rateLimited builds a 429 that still carries the quota headers.
func rateLimited(quota RateLimitHeaders) error {
	return huma.ErrorWithHeaders(huma.Error429TooManyRequests("API key quota exceeded"), http.Header{
		"X-RateLimit-Limit":     {strconv.Itoa(quota.Limit)},
		"X-RateLimit-Remaining": {strconv.Itoa(quota.Remaining)},
		"X-RateLimit-Reset":     {strconv.FormatInt(quota.Reset, 10)},
	})
}
