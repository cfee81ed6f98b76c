package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// DefaultPostTTL bounds how stale a cached post can get if an invalidation
// is lost.
const DefaultPostTTL = 30 * time.Second

// PostCache implements domain.PostCache with one JSON string per post.
//
// Key schema:
//
//	post:{id} - JSON-encoded domain.Post
type PostCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PostCache = (*PostCache)(nil)

// NewPostCache creates a PostCache. A non-positive ttl uses DefaultPostTTL.
func NewPostCache(c *Client, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = DefaultPostTTL
	}
	return &PostCache{rdb: c.rdb, ttl: ttl}
}

func postKey(id string) string { return "post:" + id }

func (pc *PostCache) Set(ctx context.Context, post domain.Post) error {
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("redis: marshal post %s: %w", post.ID, err)
	}
	if err := pc.rdb.Set(ctx, postKey(post.ID), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set post %s: %w", post.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (pc *PostCache) Get(ctx context.Context, id string) (domain.Post, error) {
	data, err := pc.rdb.Get(ctx, postKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("redis: get post %s: %w", id, err)
	}
	var post domain.Post
	if err := json.Unmarshal(data, &post); err != nil {
		return domain.Post{}, fmt.Errorf("redis: unmarshal post %s: %w", id, err)
	}
	return post, nil
}

func (pc *PostCache) Invalidate(ctx context.Context, id string) error {
	if err := pc.rdb.Del(ctx, postKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate post %s: %w", id, err)
	}
	return nil
}
