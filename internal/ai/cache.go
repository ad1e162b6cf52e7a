package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached memoises FieldValue answers for identical fields. Decision and Choice
// queries depend on the live page and always reach the oracle.
type Cached struct {
	next  Oracle
	store *gocache.Cache
}

// NewCached wraps next with a cache whose entries expire after ttl.
func NewCached(next Oracle, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cached{next: next, store: gocache.New(ttl, 2*ttl)}
}

func (c *Cached) Classify(ctx context.Context, q Query) (Answer, error) {
	if q.Kind != FieldValue || q.Field == nil {
		return c.next.Classify(ctx, q)
	}

	key := cacheKey(q)
	if v, ok := c.store.Get(key); ok {
		answer := v.(Answer)
		answer.Tokens = 0
		return answer, nil
	}

	answer, err := c.next.Classify(ctx, q)
	if err != nil {
		return answer, err
	}
	c.store.SetDefault(key, answer)
	return answer, nil
}

func cacheKey(q Query) string {
	f := q.Field
	parts := []string{f.Category, f.Kind, f.Label, f.Placeholder, strconv.FormatBool(f.Required), f.Section, q.Context}
	parts = append(parts, f.Options...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
