package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"firesim-sync-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

type countingLoader struct {
	inner ScenarioLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadScenario(ctx context.Context, id string) (domain.Scenario, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.inner.LoadScenario(ctx, id)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleScenario() domain.Scenario {
	return domain.Scenario{
		ID:               "drill-1",
		Stages:           []domain.StageContent{{ID: domain.StepIntro, Title: "Briefing"}},
		TimeLimitSeconds: 3600,
	}
}

func TestScenarioRepositoryCachesWithTTL(t *testing.T) {
	loader := &countingLoader{inner: NewStaticScenarioLoader(map[string]domain.Scenario{
		"drill-1": sampleScenario(),
	})}
	repo := NewScenarioRepository(loader, time.Minute)

	if _, err := repo.GetScenario(context.Background(), "drill-1"); err != nil {
		t.Fatalf("get scenario: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count())
	}

	// Second call should hit cache.
	if _, err := repo.GetScenario(context.Background(), "drill-1"); err != nil {
		t.Fatalf("get scenario: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
}

func TestScenarioRepositorySingleflightsConcurrentLoads(t *testing.T) {
	loader := &countingLoader{inner: NewStaticScenarioLoader(map[string]domain.Scenario{
		"drill-1": sampleScenario(),
	})}
	repo := NewScenarioRepository(loader, time.Minute)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := repo.GetScenario(context.Background(), "drill-1")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent get: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected a single load under concurrency, got %d", loader.count())
	}
}

func TestScenarioRepositoryPropagatesNotFound(t *testing.T) {
	repo := NewScenarioRepository(NewStaticScenarioLoader(nil), time.Minute)
	if _, err := repo.GetScenario(context.Background(), "missing"); err != domain.ErrScenarioNotFound {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}
