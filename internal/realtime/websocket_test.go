package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/storetest"
	"github.com/gorilla/websocket"
)

const testSigningSecret = "realtime-secret"

type websocketHarness struct {
	testHarness
	server *httptest.Server
	issuer *auth.TokenIssuer
}

func newWebsocketHarness(t *testing.T, authTimeout time.Duration) websocketHarness {
	t.Helper()
	harness := newTestHarness(t)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "corkboard_session",
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	handler, err := NewHandler(HandlerConfig{
		Manager:     harness.manager,
		Verifier:    validator,
		CookieName:  validator.CookieName(),
		AuthTimeout: authTimeout,
		BaseContext: ctx,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return websocketHarness{testHarness: harness, server: server, issuer: issuer}
}

func (h websocketHarness) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := h.issuer.Issue(context.Background(), auth.Identity{UserID: boards.UserID(userID)})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h websocketHarness) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws" + query
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, response, err
}

func (h websocketHarness) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := h.dial(t, "?token="+h.token(t, userID))
	if err != nil {
		t.Fatalf("dial failed for %s: %v", userID, err)
	}
	ready := readFrame(t, conn)
	if ready["type"] != FrameReady || ready["userId"] != userID {
		t.Fatalf("expected ready frame, got %v", ready)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		frame := readFrame(t, conn)
		if match(frame) {
			return frame
		}
	}
	t.Fatalf("expected frame never arrived")
	return nil
}

func ackFor(id string) func(map[string]any) bool {
	return func(frame map[string]any) bool {
		return frame["type"] == FrameAck && frame["id"] == id
	}
}

func presenceWith(users ...string) func(map[string]any) bool {
	return func(frame map[string]any) bool {
		if frame["type"] != "presence" {
			return false
		}
		encoded, err := json.Marshal(frame["payload"])
		if err != nil {
			return false
		}
		var payload PresenceChanged
		if err := json.Unmarshal(encoded, &payload); err != nil {
			return false
		}
		return reflect.DeepEqual(payload.Users, users)
	}
}

func send(t *testing.T, conn *websocket.Conn, request Request) {
	t.Helper()
	if err := conn.WriteJSON(request); err != nil {
		t.Fatalf("failed to send %s: %v", request.Type, err)
	}
}

func expectUnauthenticatedClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	frame := readFrame(t, conn)
	if frame["type"] != FrameError || frame["error"] != string(boards.CodeUnauthenticated) {
		t.Fatalf("expected UNAUTHENTICATED error frame, got %v", frame)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseUnauthenticated) {
		t.Fatalf("expected close %d, got %v", CloseUnauthenticated, err)
	}
}

func TestWebsocketRejectsInvalidHandshakeToken(t *testing.T) {
	harness := newWebsocketHarness(t, time.Second)
	_, response, err := harness.dial(t, "?token=not-a-jwt")
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", response)
	}
}

func TestWebsocketAuthFrameAuthenticates(t *testing.T) {
	harness := newWebsocketHarness(t, time.Second)
	conn, _, err := harness.dial(t, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	send(t, conn, Request{ID: "auth-1", Type: RequestAuth, Token: harness.token(t, "alice")})

	ready := readFrame(t, conn)
	if ready["type"] != FrameReady || ready["connectionId"] == "" {
		t.Fatalf("expected ready frame, got %v", ready)
	}
	ack := readFrame(t, conn)
	if ack["type"] != FrameAck || ack["id"] != "auth-1" || ack["ok"] != true {
		t.Fatalf("expected auth ack, got %v", ack)
	}

	send(t, conn, Request{ID: "p", Type: RequestPing})
	pong := readFrame(t, conn)
	if pong["type"] != FramePong || pong["id"] != "p" {
		t.Fatalf("expected pong, got %v", pong)
	}
}

func TestWebsocketInvalidAuthFrameCloses(t *testing.T) {
	harness := newWebsocketHarness(t, time.Second)
	conn, _, err := harness.dial(t, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	send(t, conn, Request{ID: "auth-1", Type: RequestAuth, Token: "forged"})
	expectUnauthenticatedClose(t, conn)
}

func TestWebsocketAuthTimeoutCloses(t *testing.T) {
	harness := newWebsocketHarness(t, 100*time.Millisecond)
	conn, _, err := harness.dial(t, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	expectUnauthenticatedClose(t, conn)
}

func TestWebsocketCollaborationFlow(t *testing.T) {
	harness := newWebsocketHarness(t, time.Second)
	board := storetest.GroupBoard(t, harness.db, 42, map[string]boards.GroupRole{
		"alice": boards.GroupRoleOwner,
		"bob":   boards.GroupRoleEditor,
	})
	element := storetest.Element(t, harness.db, board.ID, boards.ElementKindNote, "")

	alice := harness.connect(t, "alice")
	bob := harness.connect(t, "bob")

	send(t, alice, Request{ID: "a-join", Type: RequestJoin, BoardID: board.ID})
	readUntil(t, alice, ackFor("a-join"))
	send(t, bob, Request{ID: "b-join", Type: RequestJoin, BoardID: board.ID})
	readUntil(t, bob, ackFor("b-join"))
	readUntil(t, alice, presenceWith("alice", "bob"))

	send(t, alice, Request{ID: "a-edit", Type: RequestEditPropose, BoardID: board.ID, ElementID: element.ID, Text: "agenda"})
	ack := readUntil(t, alice, ackFor("a-edit"))
	if ack["ok"] != true || ack["version"] != float64(1) {
		t.Fatalf("unexpected edit ack %v", ack)
	}
	applied := readUntil(t, bob, func(frame map[string]any) bool { return frame["type"] == "editApplied" })
	payload, ok := applied["payload"].(map[string]any)
	if !ok || payload["text"] != "agenda" || payload["editorId"] != "alice" {
		t.Fatalf("unexpected editApplied frame %v", applied)
	}

	send(t, bob, Request{ID: "b-react", Type: RequestReactionToggle, BoardID: board.ID, ElementID: element.ID, Symbol: "🎉"})
	reacted := readUntil(t, bob, ackFor("b-react"))
	if reacted["ok"] != true || reacted["didAdd"] != true {
		t.Fatalf("unexpected reaction ack %v", reacted)
	}
	readUntil(t, alice, func(frame map[string]any) bool { return frame["type"] == "reactionsChanged" })

	if err := alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		t.Fatalf("failed to close alice: %v", err)
	}
	readUntil(t, bob, presenceWith("bob"))
}
