package auth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/types"
)

// ErrNotAuthorized covers missing, invalid, expired or revoked credentials
// as well as insufficient roles.
var ErrNotAuthorized = errors.New("not authorized")

const revokedKeyPrefix = "auth:revoked:"

// IdentityResolver turns a bearer credential into a registered user.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (types.User, error)
}

// RevocationList records bearer tokens that must no longer authenticate.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// RedisRevocations keeps the revocation list in redis, keyed per token with
// a TTL matching the token's remaining lifetime.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations wraps the shared redis client.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// IsRevoked reports whether the token is on the deny list.
func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+token).Result()
	return n > 0, err
}

// Revoke puts the token on the deny list for the given TTL.
func (r *RedisRevocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	return r.client.Set(ctx, revokedKeyPrefix+token, 1, ttl).Err()
}

// JWTResolver validates HS256 bearer tokens and resolves their subject to a
// user row. When a revocation list is configured, tokens present on it are
// rejected.
type JWTResolver struct {
	key     []byte
	users   store.Users
	revoked RevocationList
}

// NewJWTResolver builds a resolver from the shared secret. The secret may be
// hex or base64 encoded; raw bytes are used as a last resort. The revocation
// list may be nil.
func NewJWTResolver(secret string, users store.Users, revoked RevocationList) *JWTResolver {
	return &JWTResolver{key: decodeSecret(secret), users: users, revoked: revoked}
}

// Resolve implements IdentityResolver.
func (r *JWTResolver) Resolve(ctx context.Context, token string) (types.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.key, nil
	})
	if err != nil || !parsed.Valid {
		return types.User{}, fmt.Errorf("parse bearer token: %w", ErrNotAuthorized)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return types.User{}, fmt.Errorf("token has no subject: %w", ErrNotAuthorized)
	}

	if r.revoked != nil {
		revoked, err := r.revoked.IsRevoked(ctx, token)
		if err == nil && revoked {
			return types.User{}, fmt.Errorf("token revoked: %w", ErrNotAuthorized)
		}
	}

	user, err := r.users.FindByUsername(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("unknown user %q: %w", subject, ErrNotAuthorized)
	}
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Revoke denies the token until it would have expired anyway. The token is
// not verified here; revoking garbage is an error, revoking a forged token
// is harmless.
func (r *JWTResolver) Revoke(ctx context.Context, token string) error {
	if r.revoked == nil {
		return nil
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("parse token for revocation: %w", err)
	}
	return r.revoked.Revoke(ctx, token, tokenTTL(claims))
}

func tokenTTL(claims jwt.MapClaims) time.Duration {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 24 * time.Hour
	}
	ttl := time.Until(exp.Time)
	if ttl <= 0 {
		return time.Minute
	}
	return ttl
}

func decodeSecret(secret string) []byte {
	if raw, err := hex.DecodeString(secret); err == nil {
		return raw
	}
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil {
		return raw
	}
	return []byte(secret)
}
