package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"firesim-sync-service/internal/app"
	"firesim-sync-service/internal/domain"
	"firesim-sync-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

// WSHandler serves the learner side of the protocol: join a session over a
// websocket, receive live session-config (stage gate) updates, and push
// step progress.
type WSHandler struct {
	repo       app.SessionRepository
	scenarios  app.ScenarioRepository
	scenarioID string
	upgrader   websocket.Upgrader
}

func NewWSHandler(repo app.SessionRepository, scenarios app.ScenarioRepository, scenarioID string) *WSHandler {
	return &WSHandler{
		repo:       repo,
		scenarios:  scenarios,
		scenarioID: scenarioID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type progressPayload struct {
	Step domain.StepID `json:"step"`
}

type joinedPayload struct {
	LearnerID        string          `json:"learnerId"`
	Session          *domain.Session `json:"session"`
	InfoCards        []string        `json:"infoCards,omitempty"`
	TimeLimitSeconds int             `json:"timeLimitSeconds,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the connection into a per-client
// learner hook. Query parameters: sessionId, name, teamId.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	name := r.URL.Query().Get("name")
	teamRaw := r.URL.Query().Get("teamId")
	if sessionID == "" || name == "" || teamRaw == "" {
		http.Error(w, "missing sessionId, name, or teamId", http.StatusBadRequest)
		return
	}
	teamID, err := strconv.Atoi(teamRaw)
	if err != nil {
		http.Error(w, "teamId must be an integer", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	learner, err := app.NewLearnerSession(r.Context(), h.repo, memory.NewIdentityStore())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer learner.Close()

	// Discovery is push-based; wait for the first open-sessions snapshot
	// before validating the join code against it.
	<-learner.Updates()

	learnerID, err := learner.Join(r.Context(), sessionID, name, teamID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	joined := joinedPayload{LearnerID: learnerID, Session: learner.Config()}
	if joined.Session == nil {
		if cfg, err := h.repo.GetSession(r.Context(), sessionID); err == nil {
			joined.Session = &cfg
		}
	}
	if scenario, err := h.scenarios.GetScenario(r.Context(), h.scenarioID); err == nil {
		totalTeams := domain.DefaultTotalTeams
		if joined.Session != nil {
			totalTeams = joined.Session.TotalTeams
		}
		joined.InfoCards = scenario.CardsForTeam(teamID, totalTeams)
		joined.TimeLimitSeconds = scenario.TimeLimitSeconds
	} else {
		log.Printf("scenario %s unavailable: %v", h.scenarioID, err)
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Forward gate changes: every state tick re-reads the latest subscribed
	// config, so the bound is never served from a stale cache.
	go func() {
		defer close(updatesDone)
		for {
			select {
			case _, ok := <-learner.Updates():
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "session", Payload: learner.Config()}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joined}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "progress":
			var payload progressPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid progress payload"}}
				continue
			}
			if !domain.ValidStep(payload.Step) {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: domain.ErrUnknownStep.Error()}}
				continue
			}
			if !learner.CanEnter(payload.Step) {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: domain.ErrStageLocked.Error()}}
				continue
			}
			// Best-effort: failures are logged inside the hook, never sent back.
			learner.UpdateProgress(r.Context(), payload.Step)
			send <- outboundMessage[any]{Type: "progress", Payload: progressPayload{Step: payload.Step}}
		case "leave":
			learner.Leave()
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// HandleOpenSessions lists the sessions a learner may join right now.
func (h *WSHandler) HandleOpenSessions(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": app.OpenSessions(all)})
}

// HandleScenario serves the scenario content package.
func (h *WSHandler) HandleScenario(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	scenario, err := h.scenarios.GetScenario(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	writeJSON(w, http.StatusOK, scenario)
}
