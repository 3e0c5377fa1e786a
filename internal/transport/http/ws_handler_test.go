package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"firesim-sync-service/internal/domain"
	"firesim-sync-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T, repo *memory.SessionRepository) *httptest.Server {
	t.Helper()
	scenarios := memory.NewScenarioRepository(memory.NewStaticScenarioLoader(sampleScenarios()), time.Minute)
	wsHandler := NewWSHandler(repo, scenarios, "plant3-fire")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)
	mux.HandleFunc("GET /sessions", wsHandler.HandleOpenSessions)
	mux.HandleFunc("GET /scenarios/{id}", wsHandler.HandleScenario)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips interleaved session updates until a message of the wanted
// type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message before deadline", want)
	return nil
}

func TestWebSocketJoinAndProgress(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	if err := repo.CreateSession(ctx, domain.Session{ID: "ABC123", IsOpen: true, GroupName: "Acme", TotalTeams: 4}); err != nil {
		t.Fatalf("create: %v", err)
	}
	idx := 1
	if err := repo.UpdateSession(ctx, "ABC123", domain.SessionUpdate{CurrentStageIndex: &idx}); err != nil {
		t.Fatalf("update: %v", err)
	}
	server := newWSServer(t, repo)

	conn := dialWS(t, server, "sessionId=ABC123&name=Kim&teamId=2")

	joined := readUntil(conn, t, "joined")
	learnerID, _ := joined["learnerId"].(string)
	if learnerID == "" {
		t.Fatalf("expected learnerId in joined payload, got %v", joined)
	}
	session, _ := joined["session"].(map[string]any)
	if session == nil || session["groupName"] != "Acme" {
		t.Fatalf("expected session config in joined payload, got %v", joined)
	}
	cards, _ := joined["infoCards"].([]any)
	if len(cards) != len(sampleScenarios()["plant3-fire"].InfoCards)/4 {
		t.Fatalf("expected team share of info cards, got %d", len(cards))
	}

	// The gate is at stage 1, so fact-finding is open.
	if err := conn.WriteJSON(map[string]any{
		"type":    "progress",
		"payload": map[string]any{"step": "fact-finding"},
	}); err != nil {
		t.Fatalf("write progress: %v", err)
	}
	echo := readUntil(conn, t, "progress")
	if echo["step"] != "fact-finding" {
		t.Fatalf("expected progress echo, got %v", echo)
	}

	// And stage 2 is still locked.
	if err := conn.WriteJSON(map[string]any{
		"type":    "progress",
		"payload": map[string]any{"step": "problem-definition"},
	}); err != nil {
		t.Fatalf("write progress: %v", err)
	}
	locked := readUntil(conn, t, "error")
	if locked["message"] != domain.ErrStageLocked.Error() {
		t.Fatalf("expected stage-locked error, got %v", locked)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":    "progress",
		"payload": map[string]any{"step": "made-up"},
	}); err != nil {
		t.Fatalf("write progress: %v", err)
	}
	unknown := readUntil(conn, t, "error")
	if unknown["message"] != domain.ErrUnknownStep.Error() {
		t.Fatalf("expected unknown-step error, got %v", unknown)
	}
}

func TestWebSocketSeesStageAdvance(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	if err := repo.CreateSession(ctx, domain.Session{ID: "ABC123", IsOpen: true, GroupName: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	server := newWSServer(t, repo)

	conn := dialWS(t, server, "sessionId=ABC123&name=Kim&teamId=1")
	readUntil(conn, t, "joined")

	idx := 1
	if err := repo.UpdateSession(ctx, "ABC123", domain.SessionUpdate{CurrentStageIndex: &idx}); err != nil {
		t.Fatalf("update: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		payload := readUntil(conn, t, "session")
		if payload["currentStageIndex"] == float64(1) {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("stage advance never reached the client")
		}
	}
}

func TestWebSocketRejectsBadJoins(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	if err := repo.CreateSession(ctx, domain.Session{ID: "SHUT01", IsOpen: false}); err != nil {
		t.Fatalf("create: %v", err)
	}
	server := newWSServer(t, repo)

	// Closed sessions read as unknown codes.
	conn := dialWS(t, server, "sessionId=SHUT01&name=Kim&teamId=1")
	errPayload := readUntil(conn, t, "error")
	if errPayload["message"] != domain.ErrSessionNotFound.Error() {
		t.Fatalf("expected session-not-found, got %v", errPayload)
	}

	// Missing query parameters fail before the upgrade.
	resp, err := http.Get(server.URL + "/ws?sessionId=SHUT01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleOpenSessionsFiltersClosed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	if err := repo.CreateSession(ctx, domain.Session{ID: "OPEN01", IsOpen: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateSession(ctx, domain.Session{ID: "SHUT01", IsOpen: false}); err != nil {
		t.Fatalf("create: %v", err)
	}
	server := newWSServer(t, repo)

	resp, err := http.Get(server.URL + "/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Sessions map[string]domain.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("expected only the open session, got %v", body.Sessions)
	}
	if _, ok := body.Sessions["OPEN01"]; !ok {
		t.Fatalf("expected OPEN01, got %v", body.Sessions)
	}
}

func sampleScenarios() map[string]domain.Scenario {
	cards := make([]string, 72)
	for i := range cards {
		cards[i] = fmt.Sprintf("info-card-%d", i+1)
	}
	return map[string]domain.Scenario{
		"plant3-fire": {
			ID: "plant3-fire",
			Briefing: domain.Briefing{
				Location: "Plant 3 packaging line",
				Incident: "A fire broke out during the night shift.",
			},
			InfoCards:        cards,
			TimeLimitSeconds: 3600,
		},
	}
}
