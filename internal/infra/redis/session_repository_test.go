package redis

import (
	"context"
	"testing"
	"time"

	"firesim-sync-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRepo(t *testing.T) (*SessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionRepository(client), mr
}

func TestCreateSessionWritesHashAndIndex(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	err := repo.CreateSession(ctx, domain.Session{ID: "ABC123", IsOpen: true, GroupName: "Acme", TotalTeams: 6})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("firesim:session:ABC123") {
		t.Fatalf("expected session hash to be set")
	}

	got, err := repo.GetSession(ctx, "ABC123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOpen || got.GroupName != "Acme" || got.TotalTeams != 6 || got.CurrentStageIndex != 0 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedAt == 0 || got.UpdatedAt == 0 {
		t.Fatalf("expected stamped timestamps, got %+v", got)
	}

	all, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok := all["ABC123"]; !ok {
		t.Fatalf("expected session in index, got %v", all)
	}
}

func TestUpdateSessionMergesFields(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	if err := repo.CreateSession(ctx, domain.Session{ID: "S1", GroupName: "Acme", TotalTeams: 4}); err != nil {
		t.Fatalf("create: %v", err)
	}

	open := true
	if err := repo.UpdateSession(ctx, "S1", domain.SessionUpdate{IsOpen: &open}); err != nil {
		t.Fatalf("update: %v", err)
	}
	idx := 1
	if err := repo.UpdateSession(ctx, "S1", domain.SessionUpdate{CurrentStageIndex: &idx}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetSession(ctx, "S1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOpen || got.CurrentStageIndex != 1 || got.GroupName != "Acme" || got.TotalTeams != 4 {
		t.Fatalf("expected merged config, got %+v", got)
	}

	if err := repo.UpdateSession(ctx, "missing", domain.SessionUpdate{IsOpen: &open}); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteSessionRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	if err := repo.CreateSession(ctx, domain.Session{ID: "S1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.RegisterLearner(ctx, "S1", domain.Learner{Name: "Kim", TeamID: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := repo.DeleteSession(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("firesim:session:S1") || mr.Exists("firesim:session:S1:learners") {
		t.Fatalf("expected session subtree removed")
	}
	if _, err := repo.GetSession(ctx, "S1"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegisterAndProgress(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	if err := repo.CreateSession(ctx, domain.Session{ID: "S1", GroupName: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	id, err := repo.RegisterLearner(ctx, "S1", domain.Learner{Name: "Kim", TeamID: 2, GroupName: "Acme"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated key")
	}

	if err := repo.UpdateLearnerProgress(ctx, "S1", id, domain.StepFactFinding); err != nil {
		t.Fatalf("progress: %v", err)
	}
	// Missing targets are silent no-ops.
	if err := repo.UpdateLearnerProgress(ctx, "S1", "ghost", domain.StepReport); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}

	ch, cancel, err := repo.SubscribeLearners(ctx, "S1")
	if err != nil {
		t.Fatalf("subscribe learners: %v", err)
	}
	defer cancel()

	learners := recv(t, ch)
	got, ok := learners[id]
	if !ok {
		t.Fatalf("expected learner %s, got %v", id, learners)
	}
	if got.CurrentStep != domain.StepFactFinding || got.LastActive == 0 {
		t.Fatalf("expected progressed learner, got %+v", got)
	}
	if got.Name != "Kim" || got.TeamID != 2 {
		t.Fatalf("expected join fields untouched, got %+v", got)
	}
}

func TestSubscribeSessionSeesLiveChanges(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	if err := repo.CreateSession(ctx, domain.Session{ID: "S1", GroupName: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ch, cancel, err := repo.SubscribeSession(ctx, "S1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := recv(t, ch)
	if initial == nil || initial.GroupName != "Acme" {
		t.Fatalf("expected immediate snapshot, got %+v", initial)
	}

	idx := 2
	if err := repo.UpdateSession(ctx, "S1", domain.SessionUpdate{CurrentStageIndex: &idx}); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated := waitForSession(t, ch, func(s *domain.Session) bool {
		return s != nil && s.CurrentStageIndex == 2
	})
	if updated.GroupName != "Acme" {
		t.Fatalf("expected merged update, got %+v", updated)
	}

	if err := repo.DeleteSession(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitForSession(t, ch, func(s *domain.Session) bool { return s == nil })
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for delivery")
		panic("unreachable")
	}
}

func waitForSession(t *testing.T, ch <-chan *domain.Session, ok func(*domain.Session) bool) *domain.Session {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s, open := <-ch:
			if !open {
				t.Fatalf("subscription closed while waiting")
			}
			if ok(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching delivery")
		}
	}
}
