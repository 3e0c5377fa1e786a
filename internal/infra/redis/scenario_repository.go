package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"firesim-sync-service/internal/domain"
	"firesim-sync-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ScenarioRepository caches scenario content in Redis (one JSON blob per
// scenario) and falls back to a loader on cache miss.
type ScenarioRepository struct {
	client *redis.Client
	loader memory.ScenarioLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewScenarioRepository(client *redis.Client, loader memory.ScenarioLoader, ttl time.Duration) *ScenarioRepository {
	return &ScenarioRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ScenarioRepository) GetScenario(ctx context.Context, id string) (domain.Scenario, error) {
	if scenario, ok, err := r.fromCache(ctx, id); err == nil && ok {
		return scenario, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if scenario, ok, err := r.fromCache(ctx, id); err == nil && ok {
			return scenario, nil
		}

		scenario, err := r.loader.LoadScenario(ctx, id)
		if err != nil {
			return domain.Scenario{}, err
		}

		data, err := json.Marshal(scenario)
		if err != nil {
			return domain.Scenario{}, fmt.Errorf("cache scenario: %w", err)
		}
		// best-effort cache fill
		_ = r.client.Set(ctx, r.key(id), data, r.ttlWithJitter()).Err()
		return scenario, nil
	})
	if err != nil {
		return domain.Scenario{}, err
	}
	return result.(domain.Scenario), nil
}

func (r *ScenarioRepository) fromCache(ctx context.Context, id string) (domain.Scenario, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Scenario{}, false, nil
	}
	if err != nil {
		return domain.Scenario{}, false, err
	}
	var scenario domain.Scenario
	if err := json.Unmarshal([]byte(raw), &scenario); err != nil {
		return domain.Scenario{}, false, err
	}
	return scenario, true, nil
}

func (r *ScenarioRepository) key(id string) string {
	return "firesim:scenario:" + id
}

func (r *ScenarioRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
