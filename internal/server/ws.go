package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/broadcast"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is same-host tooling; no origin restriction.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsCommand struct {
	Command string `json:"command"`
}

type wsResponse struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// handleWebSocket upgrades the connection, streams broadcast events to the
// client, and answers control commands. All writes go through a single
// goroutine as required by the websocket package.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := s.broadcaster.Subscribe()
	if sub == nil {
		conn.Close()
		return
	}
	s.logger.Info("WebSocket client connected", "remote", r.RemoteAddr)

	responses := make(chan wsResponse, 8)
	done := make(chan struct{})
	go s.wsWriter(conn, sub, responses, done)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			break
		}
		select {
		case responses <- s.execCommand(cmd):
		default:
			// Client is not reading its responses; drop the command reply.
		}
	}

	s.broadcaster.Unsubscribe(sub)
	close(done)
	conn.Close()
	s.logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr)
}

// wsWriter is the connection's sole writer: it forwards broadcast events,
// command responses and keepalive pings.
func (s *Server) wsWriter(conn *websocket.Conn, sub *broadcast.Subscriber, responses <-chan wsResponse, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// Greet the client with the current state so it can render immediately.
	status := s.controller.Status()
	s.writeWS(conn, broadcast.Event{Type: broadcast.EventStatus, Data: map[string]any{
		"state":      status.State,
		"session_id": status.SessionID,
	}})

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Dropped by the broadcaster or server shutdown.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if !s.writeWS(conn, ev) {
				return
			}
		case resp := <-responses:
			if !s.writeWS(conn, resp) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return false
	}
	return true
}

// execCommand runs one client command against the controller.
func (s *Server) execCommand(cmd wsCommand) wsResponse {
	resp := wsResponse{Type: "response", Command: cmd.Command}
	switch cmd.Command {
	case "start_capture":
		info, err := s.controller.Start()
		if err != nil {
			resp.Error = s.commandError(err)
			return resp
		}
		resp.OK = true
		resp.Data = info
	case "stop_capture":
		status, err := s.controller.Stop()
		if err != nil {
			resp.Error = s.commandError(err)
			return resp
		}
		resp.OK = true
		resp.Data = status.Stats
	case "get_status":
		resp.OK = true
		resp.Data = s.controller.Status()
	default:
		resp.Error = "unknown command"
	}
	return resp
}

func (s *Server) commandError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionAlreadyActive):
		return "capture already active"
	case errors.Is(err, session.ErrNoActiveSession):
		return "no active capture session"
	default:
		s.logger.Error("Command failed", "error", err)
		return "internal error"
	}
}
