package memory

import (
	"context"
	"sync"
	"time"

	"firesim-sync-service/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository is the in-memory implementation of app.SessionRepository.
// It keeps the whole session/learner tree in process and fans out changes to
// subscribers over buffered channels, dropping the stale value when a slow
// consumer has not drained its buffer.
type SessionRepository struct {
	mu  sync.Mutex
	now func() time.Time

	sessions map[string]*sessionNode

	rootSubs    map[chan map[string]domain.Session]struct{}
	sessionSubs map[string]map[chan *domain.Session]struct{}
	learnerSubs map[string]map[chan map[string]domain.Learner]struct{}
}

type sessionNode struct {
	session  domain.Session
	learners map[string]domain.Learner
}

func NewSessionRepository() *SessionRepository {
	return NewSessionRepositoryWithClock(time.Now)
}

// NewSessionRepositoryWithClock allows deterministic timestamps in tests.
func NewSessionRepositoryWithClock(now func() time.Time) *SessionRepository {
	return &SessionRepository{
		now:         now,
		sessions:    make(map[string]*sessionNode),
		rootSubs:    make(map[chan map[string]domain.Session]struct{}),
		sessionSubs: make(map[string]map[chan *domain.Session]struct{}),
		learnerSubs: make(map[string]map[chan map[string]domain.Learner]struct{}),
	}
}

// CreateSession writes the full config at the session path, stamping both
// timestamps. A colliding id is silently overwritten, learners included.
func (r *SessionRepository) CreateSession(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.ID
	nowMS := r.now().UnixMilli()
	session.ID = ""
	session.CreatedAt = nowMS
	session.UpdatedAt = nowMS
	r.sessions[id] = &sessionNode{
		session:  session,
		learners: make(map[string]domain.Learner),
	}
	r.broadcastSessionLocked(id)
	r.broadcastRootLocked()
	r.broadcastLearnersLocked(id)
	return nil
}

// UpdateSession shallow-merges the supplied fields and refreshes UpdatedAt.
func (r *SessionRepository) UpdateSession(_ context.Context, id string, update domain.SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	node.session = update.Apply(node.session)
	node.session.UpdatedAt = r.now().UnixMilli()
	r.broadcastSessionLocked(id)
	r.broadcastRootLocked()
	return nil
}

// DeleteSession removes the whole subtree, learner registrations included.
// Deleting an already-absent session is a no-op.
func (r *SessionRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return nil
	}
	delete(r.sessions, id)
	r.broadcastSessionLocked(id)
	r.broadcastRootLocked()
	r.broadcastLearnersLocked(id)
	return nil
}

func (r *SessionRepository) GetSession(_ context.Context, id string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	s := node.session.Normalize()
	s.ID = id
	return s, nil
}

func (r *SessionRepository) ListSessions(_ context.Context) (map[string]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsSnapshotLocked(), nil
}

// RegisterLearner appends a new registration with a generated key. Each join
// creates a fresh record; there is no re-join dedup.
func (r *SessionRepository) RegisterLearner(_ context.Context, sessionID string, learner domain.Learner) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.sessions[sessionID]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	id := uuid.NewString()
	learner.ID = ""
	learner.JoinedAt = r.now().UnixMilli()
	if learner.CurrentStep == "" {
		learner.CurrentStep = domain.FirstStep
	}
	node.learners[id] = learner
	r.broadcastLearnersLocked(sessionID)
	return id, nil
}

// UpdateLearnerProgress merges currentStep and a refreshed lastActive. When
// the session or learner no longer exists the write quietly does nothing,
// matching the append-only view clients have of registrations.
func (r *SessionRepository) UpdateLearnerProgress(_ context.Context, sessionID, learnerID string, step domain.StepID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	learner, ok := node.learners[learnerID]
	if !ok {
		return nil
	}
	learner.CurrentStep = step
	learner.LastActive = r.now().UnixMilli()
	node.learners[learnerID] = learner
	r.broadcastLearnersLocked(sessionID)
	return nil
}

// SubscribeSession delivers the current value (or nil when the node does not
// exist) immediately, then again on every change at that path.
func (r *SessionRepository) SubscribeSession(_ context.Context, id string) (<-chan *domain.Session, func(), error) {
	ch := make(chan *domain.Session, 8)

	r.mu.Lock()
	if r.sessionSubs[id] == nil {
		r.sessionSubs[id] = make(map[chan *domain.Session]struct{})
	}
	r.sessionSubs[id][ch] = struct{}{}
	ch <- r.sessionSnapshotLocked(id)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.sessionSubs[id][ch]; ok {
			delete(r.sessionSubs[id], ch)
			if len(r.sessionSubs[id]) == 0 {
				delete(r.sessionSubs, id)
			}
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel, nil
}

// SubscribeSessions delivers the full id→session mapping on every change
// anywhere under the sessions root.
func (r *SessionRepository) SubscribeSessions(_ context.Context) (<-chan map[string]domain.Session, func(), error) {
	ch := make(chan map[string]domain.Session, 8)

	r.mu.Lock()
	r.rootSubs[ch] = struct{}{}
	ch <- r.sessionsSnapshotLocked()
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.rootSubs[ch]; ok {
			delete(r.rootSubs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel, nil
}

// SubscribeLearners delivers the session's full learner mapping on every
// change, or an empty mapping when the session has none (or is gone).
func (r *SessionRepository) SubscribeLearners(_ context.Context, sessionID string) (<-chan map[string]domain.Learner, func(), error) {
	ch := make(chan map[string]domain.Learner, 8)

	r.mu.Lock()
	if r.learnerSubs[sessionID] == nil {
		r.learnerSubs[sessionID] = make(map[chan map[string]domain.Learner]struct{})
	}
	r.learnerSubs[sessionID][ch] = struct{}{}
	ch <- r.learnersSnapshotLocked(sessionID)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.learnerSubs[sessionID][ch]; ok {
			delete(r.learnerSubs[sessionID], ch)
			if len(r.learnerSubs[sessionID]) == 0 {
				delete(r.learnerSubs, sessionID)
			}
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel, nil
}

func (r *SessionRepository) sessionSnapshotLocked(id string) *domain.Session {
	node, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s := node.session.Normalize()
	s.ID = id
	return &s
}

func (r *SessionRepository) sessionsSnapshotLocked() map[string]domain.Session {
	out := make(map[string]domain.Session, len(r.sessions))
	for id, node := range r.sessions {
		s := node.session.Normalize()
		s.ID = id
		out[id] = s
	}
	return out
}

func (r *SessionRepository) learnersSnapshotLocked(sessionID string) map[string]domain.Learner {
	out := make(map[string]domain.Learner)
	node, ok := r.sessions[sessionID]
	if !ok {
		return out
	}
	for id, learner := range node.learners {
		learner.ID = id
		out[id] = learner
	}
	return out
}

func (r *SessionRepository) broadcastSessionLocked(id string) {
	snapshot := r.sessionSnapshotLocked(id)
	for ch := range r.sessionSubs[id] {
		deliver(ch, snapshot)
	}
}

func (r *SessionRepository) broadcastRootLocked() {
	snapshot := r.sessionsSnapshotLocked()
	for ch := range r.rootSubs {
		deliver(ch, snapshot)
	}
}

func (r *SessionRepository) broadcastLearnersLocked(sessionID string) {
	snapshot := r.learnersSnapshotLocked(sessionID)
	for ch := range r.learnerSubs[sessionID] {
		deliver(ch, snapshot)
	}
}

// deliver drops the stale buffered value so a slow subscriber never blocks
// the writer and always ends up with the latest snapshot.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
