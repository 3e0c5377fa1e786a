package app

import (
	"context"
	"log"
	"sync"

	"firesim-sync-service/internal/domain"
)

// LearnerSession is the learner-side synchronization hook: discovery of open
// sessions, joining one, watching its stage gate, and pushing progress.
//
// Progress sync is advisory. Push failures are logged and swallowed so they
// can never interrupt the learner's local flow.
type LearnerSession struct {
	repo       SessionRepository
	identities IdentityStore
	logf       func(format string, args ...any)

	mu           sync.Mutex
	open         map[string]domain.Session
	sessionID    string
	learnerID    string
	config       *domain.Session
	gen          int
	cancelConfig func()
	cancelRoot   func()
	loading      bool
	err          error

	notify chan struct{}
}

// NewLearnerSession subscribes to the open-sessions view and starts tracking
// it. Closed sessions never appear in the mapping; this is the learner-side
// enforcement point for "session not open yet".
func NewLearnerSession(ctx context.Context, repo SessionRepository, identities IdentityStore) (*LearnerSession, error) {
	l := &LearnerSession{
		repo:       repo,
		identities: identities,
		logf:       log.Printf,
		open:       make(map[string]domain.Session),
		loading:    true,
		notify:     make(chan struct{}, 1),
	}
	ch, cancel, err := repo.SubscribeSessions(ctx)
	if err != nil {
		return nil, err
	}
	l.cancelRoot = cancel
	go func() {
		for all := range ch {
			l.mu.Lock()
			l.open = OpenSessions(all)
			l.loading = false
			l.mu.Unlock()
			l.wake()
		}
	}()
	return l, nil
}

// Join registers the learner into the session named by the join code. The
// code is validated against the currently-known open-sessions mapping with no
// store round-trip; unknown codes and closed sessions fail the same way. On
// success the assigned identity is persisted as a resume hint and the session
// config is watched for gate changes.
func (l *LearnerSession) Join(ctx context.Context, sessionID, name string, teamID int) (string, error) {
	l.mu.Lock()
	sess, ok := l.open[sessionID]
	l.mu.Unlock()
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	sess = sess.Normalize()
	if teamID < 1 || teamID > sess.TotalTeams {
		return "", domain.ErrTeamOutOfRange
	}

	l.setLoading(true)
	defer l.setLoading(false)

	learner := domain.Learner{
		Name:        name,
		TeamID:      teamID,
		GroupName:   sess.GroupName,
		CurrentStep: domain.FirstStep,
	}
	id, err := l.repo.RegisterLearner(ctx, sessionID, learner)
	if err != nil {
		l.setErr(err)
		return "", err
	}

	if err := l.identities.Save(Identity{SessionID: sessionID, LearnerID: id}); err != nil {
		l.logf("failed to persist learner identity: %v", err)
	}
	l.adopt(ctx, sessionID, id)
	return id, nil
}

// Resume re-adopts a previously persisted identity, if one exists. The hint
// is not validated against the store; a stale identity simply results in
// no-op progress pushes.
func (l *LearnerSession) Resume(ctx context.Context) (Identity, bool) {
	identity, ok, err := l.identities.Load()
	if err != nil {
		l.logf("failed to load learner identity: %v", err)
		return Identity{}, false
	}
	if !ok {
		return Identity{}, false
	}
	l.adopt(ctx, identity.SessionID, identity.LearnerID)
	return identity, true
}

func (l *LearnerSession) adopt(ctx context.Context, sessionID, learnerID string) {
	l.mu.Lock()
	if l.cancelConfig != nil {
		l.cancelConfig()
		l.cancelConfig = nil
	}
	l.gen++
	gen := l.gen
	l.sessionID = sessionID
	l.learnerID = learnerID
	l.config = nil
	l.mu.Unlock()

	ch, cancel, err := l.repo.SubscribeSession(ctx, sessionID)
	if err != nil {
		l.logf("failed to watch session %s: %v", sessionID, err)
		return
	}
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		cancel()
		return
	}
	l.cancelConfig = cancel
	l.mu.Unlock()

	go func() {
		for cfg := range ch {
			l.mu.Lock()
			if l.gen != gen {
				l.mu.Unlock()
				return
			}
			// A nil payload means the session is gone; dependent state
			// resets and the gate reads as absent.
			l.config = cfg
			l.mu.Unlock()
			l.wake()
		}
	}()
}

// UpdateProgress pushes the learner's current step to the store. It is a
// no-op when not joined. Failures are logged, never surfaced: the push is
// fire-and-forget and must not block local interaction.
func (l *LearnerSession) UpdateProgress(ctx context.Context, step domain.StepID) {
	l.mu.Lock()
	sessionID, learnerID := l.sessionID, l.learnerID
	l.mu.Unlock()
	if sessionID == "" || learnerID == "" {
		return
	}
	if err := l.repo.UpdateLearnerProgress(ctx, sessionID, learnerID, step); err != nil {
		l.logf("failed to update progress: %v", err)
	}
}

// Leave clears the local join state and the durable identity hint. It does
// not delete the registration from the shared store. Calling it twice is the
// same as calling it once.
func (l *LearnerSession) Leave() {
	l.mu.Lock()
	if l.cancelConfig != nil {
		l.cancelConfig()
		l.cancelConfig = nil
	}
	l.gen++
	l.sessionID = ""
	l.learnerID = ""
	l.config = nil
	l.mu.Unlock()
	l.wake()

	if err := l.identities.Clear(); err != nil {
		l.logf("failed to clear learner identity: %v", err)
	}
}

// Gate returns the most recently observed stage gate for the joined session.
// The second return is false when no session config is currently known. The
// value is re-read from the live subscription, never cached by callers.
func (l *LearnerSession) Gate() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config == nil {
		return 0, false
	}
	return l.config.Normalize().CurrentStageIndex, true
}

// CanEnter reports whether the gate currently permits the given step.
func (l *LearnerSession) CanEnter(step domain.StepID) bool {
	idx := domain.StepIndex(step)
	if idx < 0 {
		return false
	}
	gate, ok := l.Gate()
	return ok && idx <= gate
}

// OpenSessions returns a copy of the live open-sessions mapping.
func (l *LearnerSession) OpenSessions() map[string]domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.Session, len(l.open))
	for id, s := range l.open {
		out[id] = s
	}
	return out
}

// Config returns the latest observed session config, or nil when unjoined or
// when the session no longer exists.
func (l *LearnerSession) Config() *domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config == nil {
		return nil
	}
	cfg := l.config.Normalize()
	return &cfg
}

// SessionID returns the joined session id, or "".
func (l *LearnerSession) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// LearnerID returns the durable registration key assigned at join, or "".
func (l *LearnerSession) LearnerID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.learnerID
}

// Loading reports whether discovery or a join is still pending.
func (l *LearnerSession) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Err returns the last surfaced join failure.
func (l *LearnerSession) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Updates returns a coalescing notification channel ticked on state changes.
func (l *LearnerSession) Updates() <-chan struct{} {
	return l.notify
}

// Close tears down every live subscription.
func (l *LearnerSession) Close() {
	l.mu.Lock()
	if l.cancelConfig != nil {
		l.cancelConfig()
		l.cancelConfig = nil
	}
	l.gen++
	cancelRoot := l.cancelRoot
	l.cancelRoot = nil
	l.mu.Unlock()
	if cancelRoot != nil {
		cancelRoot()
	}
}

func (l *LearnerSession) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *LearnerSession) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *LearnerSession) setLoading(loading bool) {
	l.mu.Lock()
	l.loading = loading
	if loading {
		l.err = nil
	}
	l.mu.Unlock()
}
