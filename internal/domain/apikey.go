package domain

import "time"

// APIKey is a stored credential for the read API. The full key is shown
// once at creation time; the row keeps only the public identifier and an
// argon2id hash of the secret half.
type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	SecretHash  string     `json:"-"`
	RateLimit   int        `json:"rate_limit"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key has passed its expiry, if any.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Usable reports whether the key may authenticate requests right now.
func (k *APIKey) Usable(now time.Time) bool {
	return !k.IsRevoked() && !k.IsExpired(now)
}
