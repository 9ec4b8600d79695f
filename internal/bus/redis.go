package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/supportchat/internal/logger"
)

const channelPrefix = "chat.events."

// Redis is the multi-process Bus: events go through Redis pub/sub, one channel
// per room, so every API instance delivers to its own local connections.
// Redis preserves publish order per connection, which together with the hub's
// per-room commit lock keeps broadcasts in commit order.
type Redis struct {
	cli *redis.Client
	ps  *redis.PubSub

	mu       sync.RWMutex
	handlers []Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis connects to url and starts consuming room events.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &Redis{
		cli:    cli,
		ps:     cli.PSubscribe(runCtx, channelPrefix+"*"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run(runCtx)
	return b, nil
}

func (b *Redis) run(ctx context.Context) {
	defer close(b.done)
	ch := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID := strings.TrimPrefix(msg.Channel, channelPrefix)
			b.mu.RLock()
			handlers := b.handlers
			b.mu.RUnlock()
			for _, h := range handlers {
				h(roomID, []byte(msg.Payload))
			}
		}
	}
}

func (b *Redis) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Redis) Publish(ctx context.Context, roomID string, payload []byte) error {
	return b.cli.Publish(ctx, channelPrefix+roomID, payload).Err()
}

func (b *Redis) Close() error {
	b.cancel()
	if err := b.ps.Close(); err != nil {
		logger.Errorf("bus: pubsub close: %v", err)
	}
	<-b.done
	return b.cli.Close()
}
