// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades the request and serves the resulting connection
// through the hub, exactly like an accepted TCP connection. The handler
// returns when the chat session ends.
func (s *Server) WebSocketHandler() http.Handler {
	origins := newOriginPolicy(s.cfg.AllowedOrigins, s.logger)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.trackConn() {
			http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
			return
		}
		defer s.conns.Done()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("ws.upgrade.fail", "remote", r.RemoteAddr, "err", err)
			return
		}

		ctx := s.baseCtx
		if ctx == nil {
			ctx = r.Context()
		}
		s.hub.ServeConn(ctx, NewWebSocketConn(conn, r.RemoteAddr, s.cfg.MaxFrameBytes, s.cfg.WriteTimeout))
	})
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// TestPageHandler serves a minimal browser client for the WebSocket endpoint.
// It answers the nickname request and shows every line the server sends.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat WebSocket Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; white-space: pre-wrap; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
    </style>
</head>
<body>
    <h1>GoChat WebSocket Test</h1>
    <div>
        <input type="text" id="nickname" placeholder="Nickname">
        <button id="connectButton" onclick="connect()">Connect</button>
    </div>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." maxlength="500" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>
    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setEnabled(enabled) {
            messageInput.disabled = !enabled;
            sendButton.disabled = !enabled;
        }

        function connect() {
            const nickname = document.getElementById('nickname').value.trim();
            if (!nickname || ws) {
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onmessage = function(event) {
                if (event.data === 'NICK') {
                    ws.send(nickname);
                    setEnabled(true);
                    return;
                }
                addLine(event.data);
            };
            ws.onclose = function() {
                addLine('Connection lost!');
                setEnabled(false);
                ws = null;
            };
        }

        function sendMessage() {
            const message = messageInput.value;
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                addLine('You: ' + message);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
