package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"nickchat/internal/model"
)

const (
	userCacheKeyByID   = "user:id:"
	userCacheKeyByNick = "user:nick:"
	defaultUserTTL     = time.Hour
)

// NewRedisClient connects and pings; a reachable server is required at
// startup so a misconfigured cache fails fast instead of degrading silently.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// CachedUsers is a read-through user cache over a primary store. Cache
// failures are logged and fall back to the primary; they never fail the
// caller. Message operations pass straight through.
type CachedUsers struct {
	Store

	client *redis.Client
	ttl    time.Duration
}

func NewCachedUsers(primary Store, client *redis.Client, ttl time.Duration) *CachedUsers {
	if ttl <= 0 {
		ttl = defaultUserTTL
	}
	return &CachedUsers{Store: primary, client: client, ttl: ttl}
}

func (c *CachedUsers) getCached(ctx context.Context, key string) (model.User, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("user cache: get %s: %v", key, err)
		}
		return model.User{}, false
	}
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		log.Printf("user cache: decode %s: %v", key, err)
		return model.User{}, false
	}
	return u, true
}

func (c *CachedUsers) putCached(ctx context.Context, u model.User) {
	data, err := json.Marshal(u)
	if err != nil {
		log.Printf("user cache: encode %s: %v", u.UUID, err)
		return
	}
	if err := c.client.Set(ctx, userCacheKeyByID+u.UUID, data, c.ttl).Err(); err != nil {
		log.Printf("user cache: set by id %s: %v", u.UUID, err)
	}
	if err := c.client.Set(ctx, userCacheKeyByNick+u.Nickname, data, c.ttl).Err(); err != nil {
		log.Printf("user cache: set by nickname %s: %v", u.Nickname, err)
	}
}

func (c *CachedUsers) FindUser(ctx context.Context, id string) (model.User, bool, error) {
	if u, ok := c.getCached(ctx, userCacheKeyByID+id); ok {
		return u, true, nil
	}

	u, ok, err := c.Store.FindUser(ctx, id)
	if err != nil || !ok {
		return u, ok, err
	}
	c.putCached(ctx, u)
	return u, true, nil
}

func (c *CachedUsers) FindUserByNickname(ctx context.Context, nickname string) (model.User, bool, error) {
	if u, ok := c.getCached(ctx, userCacheKeyByNick+nickname); ok {
		return u, true, nil
	}

	u, ok, err := c.Store.FindUserByNickname(ctx, nickname)
	if err != nil || !ok {
		return u, ok, err
	}
	c.putCached(ctx, u)
	return u, true, nil
}

func (c *CachedUsers) SaveUser(ctx context.Context, u model.User) error {
	if err := c.Store.SaveUser(ctx, u); err != nil {
		return err
	}
	c.putCached(ctx, u)
	return nil
}

func (c *CachedUsers) Close() error {
	if err := c.client.Close(); err != nil {
		log.Printf("user cache: close: %v", err)
	}
	return c.Store.Close()
}
