package app

import (
	"context"
	"sync"

	"firesim-sync-service/internal/domain"
)

// AdminView is the admin-side synchronization hook: a live view over every
// session (open and closed) plus the learners of one selected session.
//
// Selection changes tear the old learner subscription down before any new one
// begins; a generation counter drops late deliveries from a torn-down
// subscription so a stale callback can never overwrite newer state.
type AdminView struct {
	repo SessionRepository

	mu             sync.Mutex
	sessions       map[string]domain.Session
	selectedID     string
	learners       map[string]domain.Learner
	loading        bool
	err            error
	gen            int
	cancelLearners func()
	cancelRoot     func()

	notify chan struct{}
}

// NewAdminView subscribes to the sessions root and starts tracking it.
func NewAdminView(ctx context.Context, repo SessionRepository) (*AdminView, error) {
	v := &AdminView{
		repo:     repo,
		sessions: make(map[string]domain.Session),
		learners: make(map[string]domain.Learner),
		loading:  true,
		notify:   make(chan struct{}, 1),
	}
	ch, cancel, err := repo.SubscribeSessions(ctx)
	if err != nil {
		return nil, err
	}
	v.cancelRoot = cancel
	go func() {
		for all := range ch {
			v.mu.Lock()
			v.sessions = all
			v.loading = false
			v.mu.Unlock()
			v.wake()
		}
	}()
	return v, nil
}

// Select switches the detail view to the given session, or clears it when id
// is empty. The previous learner subscription is cancelled before the new one
// is established.
func (v *AdminView) Select(ctx context.Context, id string) error {
	v.mu.Lock()
	if v.cancelLearners != nil {
		v.cancelLearners()
		v.cancelLearners = nil
	}
	v.gen++
	gen := v.gen
	v.selectedID = id
	v.learners = make(map[string]domain.Learner)
	v.mu.Unlock()
	v.wake()

	if id == "" {
		return nil
	}

	ch, cancel, err := v.repo.SubscribeLearners(ctx, id)
	if err != nil {
		v.setErr(err)
		return err
	}

	v.mu.Lock()
	if v.gen != gen {
		// Selection moved on while we were subscribing.
		v.mu.Unlock()
		cancel()
		return nil
	}
	v.cancelLearners = cancel
	v.mu.Unlock()

	go func() {
		for learners := range ch {
			v.mu.Lock()
			if v.gen != gen {
				v.mu.Unlock()
				return
			}
			v.learners = learners
			v.mu.Unlock()
			v.wake()
		}
	}()
	return nil
}

// CreateNewSession generates a join code, writes the config, and returns the
// new id. Failures set the view's error state and propagate to the caller.
func (v *AdminView) CreateNewSession(ctx context.Context, cfg domain.Session) (string, error) {
	v.setLoading(true)
	defer v.setLoading(false)

	cfg = cfg.Normalize()
	if cfg.TotalTeams > domain.MaxTotalTeams {
		cfg.TotalTeams = domain.MaxTotalTeams
	}
	cfg.CurrentStageIndex = domain.ClampStageIndex(cfg.CurrentStageIndex)
	cfg.ID = GenerateSessionID()

	if err := v.repo.CreateSession(ctx, cfg); err != nil {
		v.setErr(err)
		return "", err
	}
	return cfg.ID, nil
}

// UpdateSessionConfig shallow-merges the supplied fields into the session.
func (v *AdminView) UpdateSessionConfig(ctx context.Context, id string, update domain.SessionUpdate) error {
	v.setErr(nil)
	if update.CurrentStageIndex != nil {
		idx := domain.ClampStageIndex(*update.CurrentStageIndex)
		update.CurrentStageIndex = &idx
	}
	if err := v.repo.UpdateSession(ctx, id, update); err != nil {
		v.setErr(err)
		return err
	}
	return nil
}

// RemoveSession deletes the session and everything registered under it. If
// the removed session was selected, the selection is cleared so the detail
// view cannot keep showing a deleted session.
func (v *AdminView) RemoveSession(ctx context.Context, id string) error {
	v.setErr(nil)
	if err := v.repo.DeleteSession(ctx, id); err != nil {
		v.setErr(err)
		return err
	}
	v.mu.Lock()
	selected := v.selectedID == id
	v.mu.Unlock()
	if selected {
		return v.Select(ctx, "")
	}
	return nil
}

// AdvanceStage opens the next stage for the session, if there is one.
func (v *AdminView) AdvanceStage(ctx context.Context, id string) error {
	cur, err := v.stageIndex(id)
	if err != nil {
		return err
	}
	if cur >= len(domain.Steps)-1 {
		return nil
	}
	next := cur + 1
	return v.UpdateSessionConfig(ctx, id, domain.SessionUpdate{CurrentStageIndex: &next})
}

// RollbackStage reverts the session to the previous stage, if there is one.
func (v *AdminView) RollbackStage(ctx context.Context, id string) error {
	cur, err := v.stageIndex(id)
	if err != nil {
		return err
	}
	if cur <= 0 {
		return nil
	}
	prev := cur - 1
	return v.UpdateSessionConfig(ctx, id, domain.SessionUpdate{CurrentStageIndex: &prev})
}

func (v *AdminView) stageIndex(id string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.sessions[id]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return s.Normalize().CurrentStageIndex, nil
}

// Sessions returns a copy of the full sessions mapping, closed ones included.
func (v *AdminView) Sessions() map[string]domain.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]domain.Session, len(v.sessions))
	for id, s := range v.sessions {
		s.ID = id
		out[id] = s
	}
	return out
}

// Learners returns a copy of the selected session's learner mapping.
func (v *AdminView) Learners() map[string]domain.Learner {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]domain.Learner, len(v.learners))
	for id, l := range v.learners {
		l.ID = id
		out[id] = l
	}
	return out
}

// SelectedID returns the currently selected session id, or "".
func (v *AdminView) SelectedID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selectedID
}

// Loading reports whether an initial snapshot or a create is still pending.
func (v *AdminView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Err returns the last surfaced failure, cleared by the next mutation.
func (v *AdminView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Updates returns a coalescing notification channel that receives a tick
// whenever the view's state changes.
func (v *AdminView) Updates() <-chan struct{} {
	return v.notify
}

// Close tears down every live subscription.
func (v *AdminView) Close() {
	v.mu.Lock()
	if v.cancelLearners != nil {
		v.cancelLearners()
		v.cancelLearners = nil
	}
	v.gen++
	cancelRoot := v.cancelRoot
	v.cancelRoot = nil
	v.mu.Unlock()
	if cancelRoot != nil {
		cancelRoot()
	}
}

func (v *AdminView) setErr(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	if err != nil {
		v.wake()
	}
}

func (v *AdminView) setLoading(loading bool) {
	v.mu.Lock()
	v.loading = loading
	if loading {
		v.err = nil
	}
	v.mu.Unlock()
}

func (v *AdminView) wake() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}
