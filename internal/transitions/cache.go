// Package transitions memoizes the workflow transitions of sprint issues and
// warms them in the background with a small worker pool.
package transitions

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

const (
	// DefaultWorkers bounds concurrent prefetch requests.
	DefaultWorkers = 3

	maxEntries = 512
)

// API is the transition surface of the Jira client.
type API interface {
	Transitions(ctx context.Context, issueKey string) ([]*jira.Transition, error)
	DoTransition(ctx context.Context, issueKey, transitionID string) error
	IssueStatus(ctx context.Context, issueKey string) (*jira.Status, error)
}

// Applied is the status an issue landed in after a transition.
type Applied struct {
	Status      string
	StatusColor string
}

// Cache holds transitions per issue key. At most one fetch per key is in
// flight at a time.
type Cache struct {
	api     API
	log     zerolog.Logger
	workers int

	memo       *lru.Cache[string, []*jira.Transition]
	inflight   singleflight.Group
	generation atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithWorkers sets the prefetch pool size.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// NewCache creates an empty cache.
func NewCache(api API, opts ...Option) *Cache {
	memo, _ := lru.New[string, []*jira.Transition](maxEntries)
	c := &Cache{
		api:     api,
		log:     zerolog.Nop(),
		workers: DefaultWorkers,
		memo:    memo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the transitions of issueKey, fetching them on a miss.
func (c *Cache) Get(ctx context.Context, issueKey string) ([]*jira.Transition, error) {
	if issueKey == "" {
		return nil, nil
	}
	if cached, ok := c.memo.Get(issueKey); ok {
		return cached, nil
	}

	gen := c.generation.Load()
	// The shared fetch outlives a cancelled caller so callers that joined
	// it still get an answer.
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(issueKey, func() (any, error) {
		transitions, err := c.api.Transitions(detached, issueKey)
		if err != nil {
			return nil, err
		}
		// A Reset while the fetch was running means the answer belongs to
		// a previous sprint load.
		if c.generation.Load() == gen {
			c.memo.Add(issueKey, transitions)
		}
		return transitions, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.([]*jira.Transition), nil
}

// Cached reports whether issueKey has memoized transitions.
func (c *Cache) Cached(issueKey string) bool {
	return c.memo.Contains(issueKey)
}

// Prefetch warms the cache for keys. It blocks until every key was tried
// and never fails; fetch errors are dropped.
func (c *Cache) Prefetch(ctx context.Context, keys []string) {
	queue := make(chan string, len(keys))
	for _, key := range keys {
		if key != "" && !c.memo.Contains(key) {
			queue <- key
		}
	}
	close(queue)

	var g errgroup.Group
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for key := range queue {
				if ctx.Err() != nil {
					return nil
				}
				if c.memo.Contains(key) {
					continue
				}
				if _, err := c.Get(ctx, key); err != nil {
					c.log.Debug().Err(err).Str("issue", key).Msg("transition prefetch failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Apply performs a transition and reads back where the issue ended up.
func (c *Cache) Apply(ctx context.Context, issueKey, transitionID string) (*Applied, error) {
	if issueKey == "" || transitionID == "" {
		return nil, fmt.Errorf("transition %q on %q: %w", transitionID, issueKey, jira.ErrInvalidInput)
	}
	if err := c.api.DoTransition(ctx, issueKey, transitionID); err != nil {
		return nil, err
	}
	c.memo.Remove(issueKey)

	status, err := c.api.IssueStatus(ctx, issueKey)
	if err != nil {
		return nil, err
	}
	applied := &Applied{StatusColor: status.Color()}
	if status != nil {
		applied.Status = status.Name
	}
	c.log.Info().Str("issue", issueKey).Str("status", applied.Status).Msg("issue transitioned")
	return applied, nil
}

// Reset forgets every memoized entry. Fetches still in flight finish but
// are not stored.
func (c *Cache) Reset() {
	c.generation.Add(1)
	c.memo.Purge()
}
