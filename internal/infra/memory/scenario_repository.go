package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"firesim-sync-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ScenarioLoader fetches scenario content from a backing store (e.g., Postgres).
type ScenarioLoader interface {
	LoadScenario(ctx context.Context, id string) (domain.Scenario, error)
}

// ScenarioRepository caches scenarios with TTL to avoid repeated DB hits.
type ScenarioRepository struct {
	loader ScenarioLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedScenario
}

type cachedScenario struct {
	scenario  domain.Scenario
	expiresAt time.Time
}

func NewScenarioRepository(loader ScenarioLoader, ttl time.Duration) *ScenarioRepository {
	return &ScenarioRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedScenario),
	}
}

func (r *ScenarioRepository) GetScenario(ctx context.Context, id string) (domain.Scenario, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[id]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.scenario, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[id]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.scenario, nil
		}
		r.mu.RUnlock()

		scenario, err := r.loader.LoadScenario(ctx, id)
		if err != nil {
			return domain.Scenario{}, err
		}

		r.mu.Lock()
		r.cache[id] = cachedScenario{
			scenario:  scenario,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return scenario, nil
	})
	if err != nil {
		return domain.Scenario{}, err
	}
	return result.(domain.Scenario), nil
}

func (r *ScenarioRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticScenarioLoader is a loader backed by an in-memory map (tests/demos).
type StaticScenarioLoader struct {
	scenarios map[string]domain.Scenario
}

func NewStaticScenarioLoader(scenarios map[string]domain.Scenario) *StaticScenarioLoader {
	return &StaticScenarioLoader{scenarios: scenarios}
}

func (l *StaticScenarioLoader) LoadScenario(_ context.Context, id string) (domain.Scenario, error) {
	if scenario, ok := l.scenarios[id]; ok {
		return scenario, nil
	}
	return domain.Scenario{}, domain.ErrScenarioNotFound
}
