package startup

import (
	"context"
	"os"
	"time"

	"github.com/supportchat/internal/bus"
	"github.com/supportchat/internal/logger"
)

// ConnectBusWithRetry connects the Redis event bus with retries.
// logPrefix is prepended to log lines.
func ConnectBusWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *bus.Redis {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b, err := bus.NewRedis(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return b
	}
}
