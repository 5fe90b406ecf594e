package cart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
)

// redisSetQuantityScript атомарно задаёт количество и удаляет пустую корзину.
// KEYS[1] = ключ корзины, ARGV[1] = товар, ARGV[2] = количество, ARGV[3] = TTL в секундах.
var redisSetQuantityScript = redis.NewScript(`
local key = KEYS[1]
local qty = tonumber(ARGV[2])
if qty <= 0 then
    redis.call("HDEL", key, ARGV[1])
else
    redis.call("HSET", key, ARGV[1], qty)
end
if redis.call("HLEN", key) == 0 then
    redis.call("DEL", key)
else
    redis.call("EXPIRE", key, tonumber(ARGV[3]))
end
return redis.call("HLEN", key)
`)

// RedisBackend хранит корзины сессии в Redis: хеш (товар -> количество) на пару (пользователь, продавец).
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend создаёт хранилище корзин в Redis.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBackend{client: client, ttl: ttl}
}

// NewRedisClient создаёт клиент Redis по адресу.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// cartKey адресует корзину по токену сессии, не сохраняя сам токен.
func cartKey(token session.Token, vendorID string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("cart:%s:%s", hex.EncodeToString(sum[:8]), vendorID)
}

// GetCart возвращает позиции корзины, отсортированные по товару.
func (b *RedisBackend) GetCart(ctx context.Context, token session.Token, vendorID string) ([]model.CartItem, error) {
	if err := token.Require(); err != nil {
		return nil, err
	}

	raw, err := b.client.HGetAll(ctx, cartKey(token, vendorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis hgetall: %w", model.ErrNetwork, err)
	}

	items := make([]model.CartItem, 0, len(raw))
	for productID, v := range raw {
		qty, err := strconv.Atoi(v)
		if err != nil || qty <= 0 {
			continue
		}
		items = append(items, model.CartItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

// AddItem увеличивает количество товара.
func (b *RedisBackend) AddItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	if err := token.Require(); err != nil {
		return err
	}

	key := cartKey(token, vendorID)
	pipe := b.client.TxPipeline()
	pipe.HIncrBy(ctx, key, productID, int64(qty))
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis add item: %w", model.ErrNetwork, err)
	}
	return nil
}

// UpdateItem задаёт количество товара; ноль удаляет позицию.
func (b *RedisBackend) UpdateItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	if err := token.Require(); err != nil {
		return err
	}

	err := redisSetQuantityScript.Run(ctx, b.client,
		[]string{cartKey(token, vendorID)},
		productID, qty, int(b.ttl.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: redis update item: %w", model.ErrNetwork, err)
	}
	return nil
}

// ClearCart удаляет корзину продавца.
func (b *RedisBackend) ClearCart(ctx context.Context, token session.Token, vendorID string) error {
	if err := token.Require(); err != nil {
		return err
	}
	if err := b.client.Del(ctx, cartKey(token, vendorID)).Err(); err != nil {
		return fmt.Errorf("%w: redis clear cart: %w", model.ErrNetwork, err)
	}
	return nil
}
