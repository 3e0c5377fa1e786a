package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"firesim-sync-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionRepository is the Redis-backed implementation of
// app.SessionRepository, for deployments where several service instances
// share one session tree.
//
// Layout:
//
//	HSET firesim:session:{id}          isOpen groupName totalTeams currentStageIndex createdAt updatedAt
//	HSET firesim:session:{id}:learners {learnerID} {learner JSON}
//	SADD firesim:sessions              {id}
//
// Every write publishes a notification on the changed path's channel; each
// subscription re-reads its path's snapshot per notification, which keeps
// delivery monotonic per path without any cross-path ordering guarantee.
type SessionRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client, now: time.Now}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session domain.Session) error {
	id := session.ID
	nowMS := r.now().UnixMilli()

	pipe := r.client.TxPipeline()
	// A colliding id is silently overwritten, learners included.
	pipe.Del(ctx, r.sessionKey(id), r.learnersKey(id))
	pipe.HSet(ctx, r.sessionKey(id),
		"isOpen", strconv.FormatBool(session.IsOpen),
		"groupName", session.GroupName,
		"totalTeams", session.TotalTeams,
		"currentStageIndex", session.CurrentStageIndex,
		"createdAt", nowMS,
		"updatedAt", nowMS,
	)
	pipe.SAdd(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	r.publish(ctx, id, true)
	return nil
}

func (r *SessionRepository) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) error {
	exists, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	fields := []interface{}{"updatedAt", r.now().UnixMilli()}
	if update.IsOpen != nil {
		fields = append(fields, "isOpen", strconv.FormatBool(*update.IsOpen))
	}
	if update.GroupName != nil {
		fields = append(fields, "groupName", *update.GroupName)
	}
	if update.TotalTeams != nil {
		fields = append(fields, "totalTeams", *update.TotalTeams)
	}
	if update.CurrentStageIndex != nil {
		fields = append(fields, "currentStageIndex", *update.CurrentStageIndex)
	}
	if err := r.client.HSet(ctx, r.sessionKey(id), fields...).Err(); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	r.publish(ctx, id, false)
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id), r.learnersKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	r.publish(ctx, id, true)
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return parseSession(id, fields), nil
}

func (r *SessionRepository) ListSessions(ctx context.Context) (map[string]domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make(map[string]domain.Session, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if len(fields) == 0 {
			continue // index entry outlived the hash; skip it
		}
		out[id] = parseSession(id, fields)
	}
	return out, nil
}

func (r *SessionRepository) RegisterLearner(ctx context.Context, sessionID string, learner domain.Learner) (string, error) {
	exists, err := r.client.Exists(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return "", fmt.Errorf("register learner: %w", err)
	}
	if exists == 0 {
		return "", domain.ErrSessionNotFound
	}

	id := uuid.NewString()
	learner.ID = ""
	learner.JoinedAt = r.now().UnixMilli()
	if learner.CurrentStep == "" {
		learner.CurrentStep = domain.FirstStep
	}
	data, err := json.Marshal(learner)
	if err != nil {
		return "", fmt.Errorf("register learner: %w", err)
	}
	if err := r.client.HSet(ctx, r.learnersKey(sessionID), id, data).Err(); err != nil {
		return "", fmt.Errorf("register learner: %w", err)
	}
	r.client.Publish(ctx, r.learnersChannel(sessionID), id)
	return id, nil
}

func (r *SessionRepository) UpdateLearnerProgress(ctx context.Context, sessionID, learnerID string, step domain.StepID) error {
	raw, err := r.client.HGet(ctx, r.learnersKey(sessionID), learnerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil // registration gone; progress is advisory
	}
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	var learner domain.Learner
	if err := json.Unmarshal([]byte(raw), &learner); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	learner.CurrentStep = step
	learner.LastActive = r.now().UnixMilli()
	data, err := json.Marshal(learner)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if err := r.client.HSet(ctx, r.learnersKey(sessionID), learnerID, data).Err(); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	r.client.Publish(ctx, r.learnersChannel(sessionID), learnerID)
	return nil
}

func (r *SessionRepository) SubscribeSession(ctx context.Context, id string) (<-chan *domain.Session, func(), error) {
	return subscribe(ctx, r.client, r.sessionChannel(id), func(ctx context.Context) (*domain.Session, error) {
		fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return nil, nil
		}
		s := parseSession(id, fields)
		return &s, nil
	})
}

func (r *SessionRepository) SubscribeSessions(ctx context.Context) (<-chan map[string]domain.Session, func(), error) {
	return subscribe(ctx, r.client, r.rootChannel(), func(ctx context.Context) (map[string]domain.Session, error) {
		return r.ListSessions(ctx)
	})
}

func (r *SessionRepository) SubscribeLearners(ctx context.Context, sessionID string) (<-chan map[string]domain.Learner, func(), error) {
	return subscribe(ctx, r.client, r.learnersChannel(sessionID), func(ctx context.Context) (map[string]domain.Learner, error) {
		raw, err := r.client.HGetAll(ctx, r.learnersKey(sessionID)).Result()
		if err != nil {
			return nil, err
		}
		out := make(map[string]domain.Learner, len(raw))
		for id, data := range raw {
			var learner domain.Learner
			if err := json.Unmarshal([]byte(data), &learner); err != nil {
				log.Printf("skipping malformed learner record %s: %v", id, err)
				continue
			}
			learner.ID = id
			out[id] = learner
		}
		return out, nil
	})
}

// subscribe wires a Redis pub/sub channel to a snapshot fetch: the current
// value is delivered immediately, then re-fetched and delivered on every
// notification until cancel is invoked. The returned channel is closed on
// cancel. Slow consumers get the stale buffered value dropped.
func subscribe[T any](ctx context.Context, client *redis.Client, channel string, fetch func(context.Context) (T, error)) (<-chan T, func(), error) {
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := make(chan T, 8)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		initial, err := fetch(ctx)
		if err != nil {
			log.Printf("subscription %s: initial fetch failed: %v", channel, err)
			return
		}
		ch <- initial

		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				snapshot, err := fetch(ctx)
				if err != nil {
					log.Printf("subscription %s: fetch failed: %v", channel, err)
					continue
				}
				deliver(ch, snapshot)
			}
		}
	}()

	cancel := sync.OnceFunc(func() {
		close(done)
		_ = sub.Close()
	})
	return ch, cancel, nil
}

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

// publish announces a session change; root listeners always hear it, and
// withLearners additionally wakes the session's learner listeners (create and
// delete replace that subtree too).
func (r *SessionRepository) publish(ctx context.Context, id string, withLearners bool) {
	r.client.Publish(ctx, r.sessionChannel(id), id)
	r.client.Publish(ctx, r.rootChannel(), id)
	if withLearners {
		r.client.Publish(ctx, r.learnersChannel(id), id)
	}
}

func parseSession(id string, fields map[string]string) domain.Session {
	s := domain.Session{ID: id}
	if v, err := strconv.ParseBool(fields["isOpen"]); err == nil {
		s.IsOpen = v
	}
	s.GroupName = fields["groupName"]
	if v, err := strconv.Atoi(fields["totalTeams"]); err == nil {
		s.TotalTeams = v
	}
	if v, err := strconv.Atoi(fields["currentStageIndex"]); err == nil {
		s.CurrentStageIndex = v
	}
	if v, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		s.CreatedAt = v
	}
	if v, err := strconv.ParseInt(fields["updatedAt"], 10, 64); err == nil {
		s.UpdatedAt = v
	}
	return s.Normalize()
}

func (r *SessionRepository) sessionKey(id string) string {
	return "firesim:session:" + id
}

func (r *SessionRepository) learnersKey(id string) string {
	return "firesim:session:" + id + ":learners"
}

func (r *SessionRepository) indexKey() string {
	return "firesim:sessions"
}

func (r *SessionRepository) sessionChannel(id string) string {
	return "firesim:events:session:" + id
}

func (r *SessionRepository) rootChannel() string {
	return "firesim:events:sessions"
}

func (r *SessionRepository) learnersChannel(id string) string {
	return "firesim:events:learners:" + id
}
