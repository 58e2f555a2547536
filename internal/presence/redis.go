package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

// RedisTracker shares typing state across service instances. One key per
// (conversation, user) with a TTL, so Redis itself enforces expiry and a
// vanished client needs no explicit stop signal.
type RedisTracker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisTracker(rdb *redis.Client, prefix string) *RedisTracker {
	if prefix == "" {
		prefix = "sync"
	}
	return &RedisTracker{rdb: rdb, prefix: prefix}
}

func (t *RedisTracker) key(conversationID, userID string) string {
	return fmt.Sprintf("%s:typing:%s:%s", t.prefix, conversationID, userID)
}

func (t *RedisTracker) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	if isTyping {
		if err := t.rdb.Set(ctx, t.key(conversationID, userID), "1", TypingTTL).Err(); err != nil {
			return fmt.Errorf("%w: set typing: %v", apperrors.ErrTransient, err)
		}
		return nil
	}
	if err := t.rdb.Del(ctx, t.key(conversationID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: clear typing: %v", apperrors.ErrTransient, err)
	}
	return nil
}

func (t *RedisTracker) GetTyping(ctx context.Context, conversationID string) ([]string, error) {
	pattern := t.key(conversationID, "*")
	base := t.key(conversationID, "")
	var out []string
	iter := t.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan typing: %v", apperrors.ErrTransient, err)
	}
	sort.Strings(out)
	return out, nil
}
