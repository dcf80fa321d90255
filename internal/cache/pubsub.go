package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel carries invalidation events between processes.
const Channel = "cache:v1:invalidate"

// Event is published whenever a write path makes cached reads stale.
type Event struct {
	Version   string   `json:"version"`
	Origin    string   `json:"origin"`
	Prefixes  []string `json:"prefixes"`
	Timestamp string   `json:"timestamp"`
}

// Target is anything that can drop cached entries by prefix.
type Target interface {
	InvalidatePrefix(prefix string) int
}

// Invalidator applies invalidations locally and broadcasts them so other
// processes drop the same prefixes.
type Invalidator struct {
	rdb    *redis.Client
	target Target
	origin string
	log    *slog.Logger
}

// NewInvalidator creates an Invalidator. rdb may be nil for a single
// process deployment.
func NewInvalidator(rdb *redis.Client, target Target, log *slog.Logger) *Invalidator {
	if log == nil {
		log = slog.Default()
	}
	return &Invalidator{
		rdb:    rdb,
		target: target,
		origin: uuid.New().String(),
		log:    log,
	}
}

// Invalidate drops prefixes from the local cache and publishes them.
func (i *Invalidator) Invalidate(ctx context.Context, prefixes ...string) error {
	for _, p := range prefixes {
		i.target.InvalidatePrefix(p)
	}
	if i.rdb == nil || len(prefixes) == 0 {
		return nil
	}

	data, err := json.Marshal(Event{
		Version:   "1.0",
		Origin:    i.origin,
		Prefixes:  prefixes,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := i.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Run subscribes to the channel and applies invalidations published by
// other processes until ctx is cancelled. ready, if non-nil, is closed once
// the subscription is active.
func (i *Invalidator) Run(ctx context.Context, ready chan<- struct{}) error {
	if i.rdb == nil {
		if ready != nil {
			close(ready)
		}
		<-ctx.Done()
		return nil
	}

	sub := i.rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				i.log.Warn("dropping malformed cache invalidation", "error", err)
				continue
			}
			if ev.Origin == i.origin {
				continue
			}
			for _, p := range ev.Prefixes {
				i.target.InvalidatePrefix(p)
			}
			i.log.Debug("cache invalidated by peer", "origin", ev.Origin, "prefixes", ev.Prefixes)
		}
	}
}
