package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClaimKey identifies the exclusive right to write results of one correction round of a participation.
// A key with AssessorID set instead guards the lock budget of one assessor in one exercise.
type ClaimKey struct {
	ParticipationID uint
	CorrectionRound int
	ExerciseID      uint
	AssessorID      uint
}

func assessorClaim(exerciseID, assessorID uint) ClaimKey {
	return ClaimKey{ExerciseID: exerciseID, AssessorID: assessorID}
}

func (k ClaimKey) String() string {
	if k.AssessorID != 0 {
		return fmt.Sprintf("assessor:%d:%d", k.ExerciseID, k.AssessorID)
	}
	return fmt.Sprintf("%d:%d", k.ParticipationID, k.CorrectionRound)
}

// less orders assessor keys before participation keys. Lock requests hold the assessor key
// while claiming a participation, never the other way around.
func (k ClaimKey) less(other ClaimKey) bool {
	if (k.AssessorID != 0) != (other.AssessorID != 0) {
		return k.AssessorID != 0
	}
	if k.ExerciseID != other.ExerciseID {
		return k.ExerciseID < other.ExerciseID
	}
	if k.AssessorID != other.AssessorID {
		return k.AssessorID < other.AssessorID
	}
	if k.ParticipationID != other.ParticipationID {
		return k.ParticipationID < other.ParticipationID
	}
	return k.CorrectionRound < other.CorrectionRound
}

// Claimer grants exclusive claims. Keys are always acquired in a stable order,
// so callers may claim several rounds at once without deadlocking each other.
type Claimer interface {
	Claim(ctx context.Context, keys ...ClaimKey) (release func(), err error)
}

func sortedKeys(keys []ClaimKey) []ClaimKey {
	sorted := make([]ClaimKey, 0, len(keys))
	seen := make(map[ClaimKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })
	return sorted
}

type localClaimer struct {
	mu    sync.Mutex
	slots map[ClaimKey]chan struct{}
}

// NewLocalClaimer returns a claimer for a single process.
func NewLocalClaimer() Claimer {
	return &localClaimer{slots: make(map[ClaimKey]chan struct{})}
}

func (c *localClaimer) slot(key ClaimKey) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		c.slots[key] = slot
	}
	return slot
}

func (c *localClaimer) Claim(ctx context.Context, keys ...ClaimKey) (func(), error) {
	acquired := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			<-acquired[i]
		}
	}

	for _, key := range sortedKeys(keys) {
		slot := c.slot(key)
		select {
		case slot <- struct{}{}:
			acquired = append(acquired, slot)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisClaimer struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisClaimer returns a claimer shared by every instance connected to the same Redis.
// A claim expires after ttl so a crashed holder cannot block a participation forever.
func NewRedisClaimer(client redis.UniversalClient, prefix string, ttl time.Duration) Claimer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "gema:claims"
	}
	return &redisClaimer{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

func (c *redisClaimer) key(key ClaimKey) string {
	return c.prefix + ":" + key.String()
}

func (c *redisClaimer) Claim(ctx context.Context, keys ...ClaimKey) (func(), error) {
	token := uuid.NewString()
	acquired := make([]string, 0, len(keys))
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = releaseClaimScript.Run(releaseCtx, c.client, []string{acquired[i]}, token).Err()
		}
	}

	for _, key := range sortedKeys(keys) {
		redisKey := c.key(key)
		if err := c.acquire(ctx, redisKey, token); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, redisKey)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (c *redisClaimer) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(c.retry)
	defer ticker.Stop()

	for {
		ok, err := c.client.SetNX(ctx, key, token, c.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("claim %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
