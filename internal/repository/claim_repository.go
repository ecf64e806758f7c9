package repository

import (
	"context"
	"time"

	redisapp "galleria/internal/storage/redis"

	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisClaimRepo hands out short-lived exclusive claims on queue rows.
type RedisClaimRepo struct {
	Client   *redisapp.Client
	NewToken func() string
}

func NewRedisClaimRepo(client *redisapp.Client) *RedisClaimRepo {
	return &RedisClaimRepo{Client: client, NewToken: uuid.NewString}
}

func (r *RedisClaimRepo) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := r.NewToken()

	ok, err := r.Client.SetNX(ctx, claimKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

func (r *RedisClaimRepo) Release(ctx context.Context, key, token string) error {
	return r.Client.Eval(ctx, releaseScript, []string{claimKey(key)}, token).Err()
}

func claimKey(key string) string {
	return "claim:" + key
}
