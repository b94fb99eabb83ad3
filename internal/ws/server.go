// Package ws is the push channel: session-scoped rooms over websockets
// carrying question broadcasts, live audio chunks, and answer events.
package ws

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"interviewd/internal/engine"
	"interviewd/internal/model"
	"interviewd/internal/stream"
)

const (
	readDeadline = 60 * time.Second

	// A chunk-count heartbeat goes back to the sender every N chunks.
	heartbeatEvery = 20
)

// message is the envelope for both directions. Unused fields stay
// empty per message type.
type message struct {
	Type       string              `json:"type"`
	SessionID  int64               `json:"session_id,omitempty"`
	QuestionID int64               `json:"question_id,omitempty"`
	Role       string              `json:"role,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
	Chunk      string              `json:"chunk,omitempty"`
	Count      int                 `json:"count,omitempty"`
	Step       *model.QuestionStep `json:"step,omitempty"`
	Answer     *model.Answer       `json:"answer,omitempty"`
	AudioPath  string              `json:"audio_path,omitempty"`
	Code       string              `json:"code,omitempty"`
	Detail     string              `json:"detail,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	role    string
	writeMu sync.Mutex
}

func (c *client) send(msg message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Warn("ws write failed", "type", msg.Type, "error", err)
	}
}

// Server manages session rooms and dispatches push events to the
// engine and the stream registry.
type Server struct {
	engine   *engine.Engine
	registry *stream.Registry
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[int64]map[*client]struct{}
}

func NewServer(e *engine.Engine, r *stream.Registry) *Server {
	return &Server{
		engine:   e,
		registry: r,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		rooms: make(map[int64]map[*client]struct{}),
	}
}

// Handle upgrades the connection and runs the event loop until the
// client goes away. Disconnection does not finalize in-flight streams:
// buffers are keyed by session and question, not by connection, so a
// client may reconnect and resume; the idle timer bounds abandonment.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &client{conn: conn}
	var roomID int64

	defer func() {
		if roomID != 0 {
			s.leaveRoom(roomID, c)
			s.broadcast(roomID, nil, message{Type: "participant-left", SessionID: roomID, Role: c.role})
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("ws read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch msg.Type {
		case "join-session":
			if msg.SessionID == 0 {
				c.send(errorMsg(engine.CodeInvalidRequest, "join-session requires session_id"))
				continue
			}
			if roomID != 0 {
				s.leaveRoom(roomID, c)
			}
			c.role = msg.Role
			if c.role == "" {
				c.role = "candidate"
			}
			roomID = msg.SessionID
			s.joinRoom(roomID, c)
			s.broadcast(roomID, nil, message{Type: "participant-joined", SessionID: roomID, Role: c.role})

		case "request-next-question":
			step, err := s.engine.NextQuestion(msg.SessionID)
			if err != nil {
				c.send(errorEvent(err))
				continue
			}
			s.broadcast(msg.SessionID, nil, message{Type: "question", SessionID: msg.SessionID, Step: step})

		case "start-recording":
			s.broadcast(msg.SessionID, nil, message{
				Type: "recording-started", SessionID: msg.SessionID, QuestionID: msg.QuestionID,
			})

		case "audio-chunk":
			s.handleChunk(c, msg)

		case "stop-recording":
			s.handleStop(c, msg)

		default:
			c.send(errorMsg(engine.CodeInvalidRequest, "unknown message type"))
		}
	}
}

// handleChunk decodes and appends one base64 audio fragment. A decode
// failure is reported to the sender and the buffer survives: one
// corrupt chunk must not lose the rest of the recording.
func (s *Server) handleChunk(c *client, msg message) {
	data, err := base64.StdEncoding.DecodeString(msg.Chunk)
	if err != nil {
		c.send(errorMsg(engine.CodeDecodeFailure, "invalid base64 audio chunk"))
		return
	}
	count, err := s.registry.Append(msg.SessionID, msg.QuestionID, data)
	if err != nil {
		slog.Error("chunk append failed", "session_id", msg.SessionID,
			"question_id", msg.QuestionID, "error", err)
		c.send(errorMsg(engine.CodeResourceFailure, "could not store audio chunk"))
		return
	}
	if count%heartbeatEvery == 0 {
		c.send(message{
			Type: "chunk-received", SessionID: msg.SessionID,
			QuestionID: msg.QuestionID, Count: count,
		})
	}
}

// handleStop finalizes the stream and records the answer. With no
// active stream the client gets the documented no-stream signal and
// falls back to the out-of-band upload path.
func (s *Server) handleStop(c *client, msg message) {
	audioPath, ok, err := s.registry.Finalize(msg.SessionID, msg.QuestionID)
	if err != nil {
		c.send(errorMsg(engine.CodeResourceFailure, "could not finalize audio stream"))
		return
	}
	if !ok {
		c.send(message{
			Type: "no-stream", SessionID: msg.SessionID, QuestionID: msg.QuestionID,
			Detail: "no streaming session found; use the upload fallback",
		})
		return
	}

	answer, err := s.engine.RecordAnswer(msg.SessionID, msg.QuestionID, msg.Transcript, audioPath)
	if err != nil {
		c.send(errorEvent(err))
		return
	}
	s.broadcast(msg.SessionID, nil, message{
		Type: "answer-saved", SessionID: msg.SessionID, QuestionID: msg.QuestionID,
		Answer: answer, AudioPath: audioPath,
	})
}

func (s *Server) joinRoom(room int64, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.rooms[room]
	if m == nil {
		m = make(map[*client]struct{})
		s.rooms[room] = m
	}
	m[c] = struct{}{}
}

func (s *Server) leaveRoom(room int64, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.rooms[room]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(s.rooms, room)
		}
	}
}

// broadcast sends to every room member except skip (nil means all).
func (s *Server) broadcast(room int64, skip *client, msg message) {
	s.mu.RLock()
	members := make([]*client, 0, len(s.rooms[room]))
	for c := range s.rooms[room] {
		if c != skip {
			members = append(members, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range members {
		c.send(msg)
	}
}

func errorMsg(code engine.Code, detail string) message {
	return message{Type: "error", Code: string(code), Detail: detail}
}

func errorEvent(err error) message {
	return errorMsg(engine.CodeOf(err), err.Error())
}
