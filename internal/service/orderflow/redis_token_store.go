package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sebmertens/broker-gateway/internal/entity"
)

const tokenKeyPrefix = "order_gateway:token:"

// transitionScript performs the compare-and-set on the token's state field
// server-side, so the single-use invariant holds across gateway replicas.
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'state') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'state', ARGV[2])
	return 1
end
return 0
`)

// RedisTokenStore is the multi-replica alternative to MemoryTokenStore.
// Tokens live in a hash per id with a TTL slightly past their expiry.
type RedisTokenStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisTokenStore(cacheDSN string, retention time.Duration) (*RedisTokenStore, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis cache_dsn is required")
	}
	if retention <= 0 {
		retention = 5 * time.Minute
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	return &RedisTokenStore{client: redis.NewClient(options), retention: retention}, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, token *entity.ConfirmationToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}

	key := tokenKeyPrefix + token.ID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "payload", payload, "state", string(token.State))
	pipe.PExpireAt(ctx, key, token.ExpiresAt.Add(s.retention))
	_, err = pipe.Exec(ctx)

	return err
}

func (s *RedisTokenStore) Get(ctx context.Context, id string) (*entity.ConfirmationToken, error) {
	fields, err := s.client.HGetAll(ctx, tokenKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, entity.ErrTokenNotFound
	}

	var token entity.ConfirmationToken
	if err := json.Unmarshal([]byte(fields["payload"]), &token); err != nil {
		return nil, err
	}

	// The state field is authoritative; the payload copy may lag a CAS.
	if state, ok := fields["state"]; ok {
		token.State = entity.TokenState(state)
	}

	return &token, nil
}

func (s *RedisTokenStore) Transition(ctx context.Context, id string, from, to entity.TokenState) (bool, error) {
	result, err := transitionScript.Run(ctx, s.client, []string{tokenKeyPrefix + id}, string(from), string(to)).Int()
	if err != nil {
		return false, err
	}
	if result == -1 {
		return false, entity.ErrTokenNotFound
	}

	return result == 1, nil
}

func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
