package querycache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// invalidation is the message exchanged on the broadcast channel. Exactly
// one of Pattern and Keys is set.
type invalidation struct {
	Origin  string   `json:"origin"`
	Pattern string   `json:"pattern,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

type subscriber struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *subscriber) stop() error {
	err := s.ps.Close()
	<-s.done
	return err
}

// publish announces an invalidation to the other instances.
func (c *Cache) publish(ctx context.Context, msg invalidation) {
	if c.cfg.channel == "" {
		return
	}
	msg.Origin = c.origin
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode invalidation broadcast", zap.Error(err))
		return
	}
	c.remote(ctx, "publish", c.cfg.channel, func(ctx context.Context) error {
		return c.l2.Publish(ctx, c.cfg.channel, payload)
	})
}

// subscribe starts listening for invalidations published by other
// instances. It returns once the subscription is confirmed.
func (c *Cache) subscribe(ctx context.Context) error {
	ps := c.l2.Subscribe(context.Background(), c.cfg.channel)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %q: %w", c.cfg.channel, err)
	}

	sub := &subscriber{ps: ps, done: make(chan struct{})}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go c.listen(sub)
	c.log.Info("listening for invalidation broadcasts", zap.String("channel", c.cfg.channel))
	return nil
}

func (c *Cache) listen(sub *subscriber) {
	defer close(sub.done)
	for m := range sub.ps.Channel() {
		c.receive([]byte(m.Payload))
	}
}

// receive applies a broadcast from another instance to the in-process
// tier. The instance's own messages are ignored.
func (c *Cache) receive(payload []byte) {
	var msg invalidation
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("ignoring malformed invalidation broadcast", zap.Error(err))
		return
	}
	if msg.Origin == c.origin {
		return
	}
	c.counters.BroadcastReceived()
	removed := c.purgeLocal(msg)
	c.log.Debug("applied invalidation broadcast",
		zap.String("origin", msg.Origin),
		zap.String("pattern", msg.Pattern),
		zap.Strings("keys", msg.Keys),
		zap.Int("removed", removed))
}
