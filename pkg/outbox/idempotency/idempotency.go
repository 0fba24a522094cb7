// Package idempotency deduplicates at-least-once deliveries (provider
// callbacks, Pub/Sub messages) with short-lived Redis marks.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	errNoConsumer = errors.New("consumer name is required")
	errNoID       = errors.New("id is required")
)

type markStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// Guard marks ids as seen per consumer under evrent:idempotency:<consumer>:<id>.
// A zero ttl keeps marks until they are released.
type Guard struct {
	store markStore
	ttl   time.Duration
}

func NewGuard(store markStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl must be non-negative, got %s", ttl)
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Mark claims id for consumer. fresh is false when another delivery already
// holds the mark; the returned Mark is then inert.
func (g *Guard) Mark(ctx context.Context, consumer, id string) (mark Mark, fresh bool, err error) {
	if strings.TrimSpace(consumer) == "" {
		return Mark{}, false, errNoConsumer
	}
	if strings.TrimSpace(id) == "" {
		return Mark{}, false, errNoID
	}
	key := g.store.IdempotencyKey(consumer, id)
	token := uuid.NewString()
	ok, err := g.store.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		return Mark{}, false, fmt.Errorf("mark %s: %w", key, err)
	}
	if !ok {
		return Mark{}, false, nil
	}
	return Mark{store: g.store, key: key, token: token}, true, nil
}

// Mark is one claimed id. Release gives it back so a failed attempt can be
// redelivered; it never removes a mark written by someone else.
type Mark struct {
	store markStore
	key   string
	token string
}

func (m Mark) Key() string { return m.key }

func (m Mark) Release(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if _, err := m.store.DeleteIfValue(ctx, m.key, m.token); err != nil {
		return fmt.Errorf("release %s: %w", m.key, err)
	}
	return nil
}

// Key joins parts with ':' to build composite ids such as <method>:<orderCode>:<ref>.
func Key(parts ...any) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = fmt.Sprint(p)
	}
	return strings.Join(out, ":")
}
