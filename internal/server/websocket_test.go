package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testOrigin = "http://localhost:8080"

func dialWS(t *testing.T, srv *Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: testTimeout}
	conn, resp, err := dialer.Dial("ws://"+srv.HTTPAddr().String()+"/ws", header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readWS(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return string(data)
}

// expectWS skips messages until want arrives.
func expectWS(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	var skipped []string
	for range 50 {
		got := readWS(t, conn)
		if got == want {
			return
		}
		skipped = append(skipped, got)
	}
	t.Fatalf("Expected message %q, got %q", want, skipped)
}

func joinWS(t *testing.T, srv *Server, identity string) *websocket.Conn {
	t.Helper()

	conn, _, err := dialWS(t, srv, testOrigin)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	if got := readWS(t, conn); got != NickToken {
		t.Fatalf("Expected %q, got %q", NickToken, got)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(identity)); err != nil {
		t.Fatalf("Failed to send identity: %v", err)
	}
	waitFor(t, identity+" to register", func() bool { return isRegistered(srv.hub, identity) })
	return conn
}

func TestWebSocketAndTCPClientsShareTheRoom(t *testing.T) {
	srv := startTestServer(t, nil)

	bob := joinTCP(t, srv, "bob")
	browser := joinWS(t, srv, "wendy")

	bob.expectLine("[12:34:56] wendy joined the chat")

	if err := browser.WriteMessage(websocket.TextMessage, []byte("hello from the browser")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	bob.expectLine("[12:34:56] wendy: hello from the browser")

	bob.send("hi wendy")
	expectWS(t, browser, "[12:34:56] bob: hi wendy")
}

func TestWebSocketRejectsUnknownOrigin(t *testing.T) {
	srv := startTestServer(t, nil)

	_, resp, err := dialWS(t, srv, "http://evil.example.com")
	if err == nil {
		t.Fatal("Expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403, got %v", resp)
	}
	if n := srv.Hub().ClientCount(); n != 0 {
		t.Errorf("Expected no clients, got %d", n)
	}
}

func TestWebSocketAllowsAnyOriginWithWildcard(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn, _, err := dialWS(t, srv, "http://anywhere.example.com")
	if err != nil {
		t.Fatalf("Expected wildcard origin to be accepted: %v", err)
	}
	if got := readWS(t, conn); got != NickToken {
		t.Errorf("Expected %q, got %q", NickToken, got)
	}
}

func TestWebSocketOversizedMessageIsViolation(t *testing.T) {
	srv := startTestServer(t, nil)

	bob := joinTCP(t, srv, "bob")
	mallory := joinWS(t, srv, "mallory")
	bob.expectLine("[12:34:56] mallory joined the chat")

	if err := mallory.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 501))); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	bob.expectLine("[12:34:56] mallory was kicked out because of rule violation.")
	waitFor(t, "mallory to be removed", func() bool { return !isRegistered(srv.hub, "mallory") })
	bob.expectNoLine("mallory left the chat", 200*time.Millisecond)
}

func TestWebSocketFrameOverCapIsViolation(t *testing.T) {
	srv := startTestServer(t, nil)

	bob := joinTCP(t, srv, "bob")
	eve := joinWS(t, srv, "eve")
	bob.expectLine("[12:34:56] eve joined the chat")

	if err := eve.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("y", 8192))); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	notice := "[12:34:56] eve was kicked out because of rule violation."
	bob.expectLine(notice)
	expectWS(t, eve, notice)
	waitFor(t, "eve to be removed", func() bool { return !isRegistered(srv.hub, "eve") })
}

func TestWebSocketLineBreaksReachTCPAsOneLine(t *testing.T) {
	srv := startTestServer(t, nil)

	bob := joinTCP(t, srv, "bob")
	mallory := joinWS(t, srv, "mallory")
	bob.expectLine("[12:34:56] mallory joined the chat")

	if err := mallory.WriteMessage(websocket.TextMessage, []byte("hi\n[12:34:56] alice: send me your password")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if err := mallory.WriteMessage(websocket.TextMessage, []byte("bye")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if got, want := bob.nextLine(), "[12:34:56] mallory: hi [12:34:56] alice: send me your password"; got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}
	if got, want := bob.nextLine(), "[12:34:56] mallory: bye"; got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}

	carol := joinTCP(t, srv, "carol")
	carol.expectLine(historyHeader(2))
	if got, want := carol.nextLine(), "[12:34:56] mallory: hi [12:34:56] alice: send me your password"; got != want {
		t.Fatalf("Expected replayed %q, got %q", want, got)
	}
}
