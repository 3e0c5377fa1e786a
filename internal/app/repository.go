package app

import (
	"context"

	"firesim-sync-service/internal/domain"
)

// SessionRepository abstracts the shared session/learner tree (in-memory,
// Redis, etc). Writes are last-write-wins at the granularity of each shallow
// merge; there is no versioning and no conflict detection.
//
// Subscriptions deliver the current value immediately, then again on every
// change, in order per subscribed path. Each subscription is independent
// until its cancel function is invoked; cancel closes the channel. A nil
// session payload means the node does not exist (deleted or never created).
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.Session) error
	UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context) (map[string]domain.Session, error)

	// RegisterLearner appends a new registration under the session and
	// returns the generated key. Rejoining creates a new registration.
	RegisterLearner(ctx context.Context, sessionID string, learner domain.Learner) (string, error)
	// UpdateLearnerProgress merges currentStep and a refreshed lastActive.
	// A missing session or learner is a no-op, not an error.
	UpdateLearnerProgress(ctx context.Context, sessionID, learnerID string, step domain.StepID) error

	SubscribeSession(ctx context.Context, id string) (<-chan *domain.Session, func(), error)
	SubscribeSessions(ctx context.Context) (<-chan map[string]domain.Session, func(), error)
	SubscribeLearners(ctx context.Context, sessionID string) (<-chan map[string]domain.Learner, func(), error)
}

// ScenarioRepository loads scenario content (from cache/backing store).
type ScenarioRepository interface {
	GetScenario(ctx context.Context, id string) (domain.Scenario, error)
}

// Identity is the resume hint a learner device keeps between page loads.
// It is never validated against the store for continued validity.
type Identity struct {
	SessionID string `json:"sessionId"`
	LearnerID string `json:"learnerId"`
}

// IdentityStore persists a learner's identity hint on the learner's device.
type IdentityStore interface {
	Save(identity Identity) error
	Load() (Identity, bool, error)
	Clear() error
}

// OpenSessions filters a sessions mapping down to the learner-visible subset:
// only sessions whose open flag is set, each carrying its own key as ID.
func OpenSessions(all map[string]domain.Session) map[string]domain.Session {
	open := make(map[string]domain.Session)
	for id, s := range all {
		if s.IsOpen {
			s.ID = id
			open[id] = s
		}
	}
	return open
}
