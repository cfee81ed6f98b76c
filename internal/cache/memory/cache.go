// Package memory provides process-local implementations of the cache, lock,
// rate-limit and signal bus interfaces for single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

type cachedPost struct {
	post    domain.Post
	expires time.Time
}

// PostCache is a TTL map of posts.
type PostCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	posts map[string]cachedPost
	now   func() time.Time
}

var _ domain.PostCache = (*PostCache)(nil)

// NewPostCache creates a PostCache whose entries live for ttl.
func NewPostCache(ttl time.Duration) *PostCache {
	return &PostCache{ttl: ttl, posts: make(map[string]cachedPost), now: time.Now}
}

func (c *PostCache) Set(_ context.Context, post domain.Post) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts[post.ID] = cachedPost{post: post, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *PostCache) Get(_ context.Context, id string) (domain.Post, error) {
	c.mu.RLock()
	entry, ok := c.posts[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expires) {
		return domain.Post{}, domain.ErrNotFound
	}
	return entry.post, nil
}

func (c *PostCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.posts, id)
	return nil
}

// LockManager is an in-process domain.LockManager. Locks expire after their
// ttl like their Redis counterparts.
type LockManager struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
	seq  uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	mine := lease{id: l.seq, expires: now.Add(ttl)}
	l.held[key] = mine

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.id == mine.id {
				delete(l.held, key)
			}
		})
	}, nil
}
