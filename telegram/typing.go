package telegram

import (
	"context"
	"time"
)

// typingInterval is how often the "typing" chat action is refreshed while
// a claude invocation is in flight. Telegram expires the indicator after
// about five seconds.
const typingInterval = 4 * time.Second

// keepTyping calls send immediately and then every interval until ctx is
// cancelled. Cancellation mid-sleep returns promptly.
func keepTyping(ctx context.Context, interval time.Duration, send func()) {
	for {
		if ctx.Err() != nil {
			return
		}
		send()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
