// Package devserver is an in-memory call server for local development and
// end-to-end tests. It accepts any non-empty credentials, relays call
// actions between registered signaling connections and answers every
// transcription upload with a canned TRANSCRIPT pushed to both parties.
package devserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TranscriptSender is the sender name on generated transcript lines.
const TranscriptSender = "AI"

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Stats counts server activity.
type Stats struct {
	Logins      uint64 `json:"logins"`
	Relayed     uint64 `json:"relayed"`
	Undelivered uint64 `json:"undelivered"`
	Uploads     uint64 `json:"uploads"`
	UploadBytes uint64 `json:"upload_bytes"`
}

// Server relays signaling between users.
type Server struct {
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	transcriptText string
	nextCallID     atomic.Int64

	mu     sync.Mutex
	tokens map[string]string // token -> username
	peers  map[string]*peer  // username -> signaling connection
	calls  map[string]string // username -> connected peer
	stats  Stats
}

// New creates a server that answers uploads with transcriptText.
func New(logger *slog.Logger, transcriptText string) *Server {
	s := &Server{
		logger:         logger,
		transcriptText: transcriptText,
		tokens:         make(map[string]string),
		peers:          make(map[string]*peer),
		calls:          make(map[string]string),
	}
	s.nextCallID.Store(int64(protocol.DefaultCallID) - 1)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", s.post(s.handleLogin))
	mux.HandleFunc("/call/ring", s.post(s.authed(s.handleRing)))
	mux.HandleFunc("/call/answer", s.post(s.authed(s.handleAnswer)))
	mux.HandleFunc("/call/hangup", s.post(s.authed(s.handleHangup)))
	mux.HandleFunc("/api/audio/transcribe", s.post(s.authed(s.handleTranscribe)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.GetStats())
	})
	return mux
}

// GetStats returns current server statistics.
func (s *Server) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Online reports whether username has a registered signaling connection.
func (s *Server) Online(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[username]
	return ok
}

type userHandler func(w http.ResponseWriter, r *http.Request, user string)

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) authed(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFor(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r, user)
	}
}

func (s *Server) userFor(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.tokens[token]
	return user, ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid login request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = req.Username
	s.stats.Logins++
	s.mu.Unlock()

	s.logger.Info("User logged in", slog.String("username", req.Username))
	writeJSON(w, map[string]string{"token": token, "username": req.Username})
}

func (s *Server) handleRing(w http.ResponseWriter, r *http.Request, user string) {
	receiver := r.URL.Query().Get("receiver")
	if receiver == "" {
		http.Error(w, "receiver is required", http.StatusBadRequest)
		return
	}

	id := protocol.CallID(s.nextCallID.Add(1))
	s.relay(receiver, protocol.Message{
		Type:     protocol.TypeCall,
		Action:   protocol.ActionRing,
		Sender:   user,
		Receiver: receiver,
		CallID:   id,
	})
	writeJSON(w, map[string]any{"callId": id})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, user string) {
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		http.Error(w, "caller is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[user] = caller
	s.calls[caller] = user
	s.mu.Unlock()

	s.relay(caller, protocol.Message{
		Type:      protocol.TypeCall,
		Action:    protocol.ActionAnswered,
		Responder: user,
		CallID:    parseCallID(r.URL.Query().Get("callId")),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request, user string) {
	target := r.URL.Query().Get("peer")

	s.mu.Lock()
	if target == "" {
		target = s.calls[user]
	}
	delete(s.calls, user)
	delete(s.calls, target)
	s.mu.Unlock()

	if target != "" {
		s.relay(target, protocol.Message{
			Type:   protocol.TypeCall,
			Action: protocol.ActionHangup,
			Sender: user,
			CallID: parseCallID(r.URL.Query().Get("callId")),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request, user string) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	n, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.stats.Uploads++
	s.stats.UploadBytes += uint64(n)
	other := s.calls[user]
	s.mu.Unlock()

	s.logger.Info("Transcription request received",
		slog.String("user", user),
		slog.String("form_user", r.FormValue("user")),
		slog.String("filename", header.Filename),
		slog.String("content_type", header.Header.Get("Content-Type")),
		slog.Int64("size_bytes", n),
		slog.String("request_id", r.Header.Get("X-Request-ID")))

	msg := protocol.Message{Type: protocol.TypeTranscript, Sender: TranscriptSender, Text: s.transcriptText}
	s.relay(user, msg)
	if other != "" {
		s.relay(other, msg)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	reg, err := protocol.Parse(data)
	if err != nil || reg.Type != protocol.TypeRegister || reg.Username == "" {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected REGISTER"))
		return
	}

	p := &peer{conn: conn}
	s.mu.Lock()
	s.peers[reg.Username] = p
	s.mu.Unlock()
	s.logger.Info("Signaling registered", slog.String("username", reg.Username))

	defer func() {
		s.mu.Lock()
		if s.peers[reg.Username] == p {
			delete(s.peers, reg.Username)
		}
		s.mu.Unlock()
		s.logger.Info("Signaling disconnected", slog.String("username", reg.Username))
	}()

	// Clients only send REGISTER; keep reading to observe the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) relay(to string, msg protocol.Message) {
	s.mu.Lock()
	p := s.peers[to]
	s.mu.Unlock()

	if p == nil {
		s.mu.Lock()
		s.stats.Undelivered++
		s.mu.Unlock()
		s.logger.Warn("Recipient not connected", slog.String("to", to), slog.String("message", msg.String()))
		return
	}
	if err := p.send(msg); err != nil {
		s.logger.Warn("Relay failed", slog.String("to", to), slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.stats.Relayed++
	s.mu.Unlock()
}

func parseCallID(s string) protocol.CallID {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return protocol.CallID(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
