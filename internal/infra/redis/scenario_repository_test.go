package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"firesim-sync-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingLoader struct {
	mu        sync.Mutex
	calls     int
	scenarios map[string]domain.Scenario
}

func (l *countingLoader) LoadScenario(ctx context.Context, id string) (domain.Scenario, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	scenario, ok := l.scenarios[id]
	if !ok {
		return domain.Scenario{}, domain.ErrScenarioNotFound
	}
	return scenario, nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestScenarioRepositoryCachesInRedis(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{scenarios: map[string]domain.Scenario{
		"plant3-fire": {ID: "plant3-fire", TimeLimitSeconds: 3600},
	}}
	repo := NewScenarioRepository(client, loader, 10*time.Minute)

	first, err := repo.GetScenario(ctx, "plant3-fire")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.TimeLimitSeconds != 3600 {
		t.Fatalf("unexpected scenario: %+v", first)
	}
	if !mr.Exists("firesim:scenario:plant3-fire") {
		t.Fatalf("expected cache fill")
	}

	second, err := repo.GetScenario(ctx, "plant3-fire")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if second.ID != "plant3-fire" {
		t.Fatalf("unexpected scenario: %+v", second)
	}
	if loader.count() != 1 {
		t.Fatalf("expected one loader call, got %d", loader.count())
	}
}

func TestScenarioRepositoryReloadsAfterTTL(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{scenarios: map[string]domain.Scenario{
		"plant3-fire": {ID: "plant3-fire"},
	}}
	repo := NewScenarioRepository(client, loader, time.Minute)

	if _, err := repo.GetScenario(ctx, "plant3-fire"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	// The jittered TTL stays within 10% of the base.
	mr.FastForward(2 * time.Minute)
	if _, err := repo.GetScenario(ctx, "plant3-fire"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after expiry, got %d loader calls", loader.count())
	}
}

func TestScenarioRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := NewScenarioRepository(client, &countingLoader{}, time.Minute)
	if _, err := repo.GetScenario(ctx, "ghost"); err != domain.ErrScenarioNotFound {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}
