package booking

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupTTL bounds how long a processed event id is remembered.  The
// processor stops redelivering well within this.
const dedupTTL = 72 * time.Hour

// RedisDeduper remembers processed webhook event ids in Redis via a
// set-if-absent marker.  With no client configured, or Redis down,
// every event reads as unseen and the stage machine's idempotency
// carries the weight alone.
type RedisDeduper struct {
	Client *redis.Client
}

// AlreadyProcessed marks the event id and reports whether it was
// already marked.
func (d *RedisDeduper) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if d.Client == nil {
		return false, nil
	}
	set, err := d.Client.SetNX(ctx, "webhook:event:"+eventID, 1, dedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
