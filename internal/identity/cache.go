package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "identity:token:"

// CachedProvider memoizes resolved identities in Redis so that every request
// in a burst does not round-trip to the identity service. Entries live for a
// short TTL; a Redis outage degrades to direct resolution.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedProvider wraps next with a Redis-backed token cache.
func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, client: client, ttl: ttl, logger: logger}
}

// ResolveToken returns the cached identity for the token or resolves and
// caches it. Tokens are stored under their SHA-256 digest, never verbatim.
func (p *CachedProvider) ResolveToken(ctx context.Context, token string) (*User, error) {
	if p.client == nil {
		return p.next.ResolveToken(ctx, token)
	}
	key := tokenKeyPrefix + digest(token)

	payload, err := p.client.Get(ctx, key).Bytes()
	if err == nil {
		var user User
		if err := json.Unmarshal(payload, &user); err == nil && user.ID != "" {
			return &user, nil
		}
	} else if err != redis.Nil {
		p.logger.Warn("identity cache read", slog.Any("error", err))
	}

	user, err := p.next.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return user, nil
	}
	if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.logger.Warn("identity cache write", slog.Any("error", err))
	}
	return user, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
