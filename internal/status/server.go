// Package status exposes the engine's observable state to UI clients.
//
// The server broadcasts connectivity, sync-in-flight, and pending-operation
// counts over WebSocket so a form or badge can subscribe instead of polling,
// and serves a /health endpoint for scripts. This surface is a read-only
// projection; nothing here writes to the mirror.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of status message.
type MessageType string

const (
	// MessageTypeStatus carries the connectivity/pending snapshot.
	MessageTypeStatus MessageType = "status"

	// MessageTypeSyncComplete carries the outcome of a reconciliation.
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Snapshot is the status payload UI clients render.
type Snapshot struct {
	Connected    bool   `json:"connected"`
	Syncing      bool   `json:"syncing"`
	PendingOps   int    `json:"pending_ops"`
	ExhaustedOps int    `json:"exhausted_ops"`
	DirtyRows    int    `json:"dirty_rows"`
	LastSync     string `json:"last_sync,omitempty"`
}

// SyncCompleteData summarizes a finished reconciliation.
type SyncCompleteData struct {
	Drained   int    `json:"drained"`
	Pushed    int    `json:"pushed"`
	Pulled    int    `json:"pulled"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

// Server manages WebSocket connections and broadcasts status messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// snapshot is re-sent to newly connected clients.
	snapshot   Snapshot
	snapshotMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:9180). The server is meant
	// for the local UI only.
	Addr string

	// Logger for server activity.
	Logger *log.Logger
}

// NewServer creates a status WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:9180"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// PublishSnapshot broadcasts a new status snapshot and retains it for
// clients that connect later.
func (s *Server) PublishSnapshot(snap Snapshot) {
	s.snapshotMu.Lock()
	s.snapshot = snap
	s.snapshotMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Printf("Failed to marshal snapshot: %v", err)
		return
	}
	s.publish(Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data})
}

// PublishSyncComplete broadcasts the outcome of a reconciliation.
func (s *Server) PublishSyncComplete(data SyncCompleteData) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal sync result: %v", err)
		return
	}
	s.publish(Message{Type: MessageTypeSyncComplete, Timestamp: time.Now(), Data: raw})
}

func (s *Server) publish(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send the retained snapshot so a late joiner has state immediately.
	s.snapshotMu.RLock()
	snap := s.snapshot
	s.snapshotMu.RUnlock()

	if data, err := json.Marshal(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      mustJSON(snap),
	}); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.snapshotMu.RLock()
	snap := s.snapshot
	s.snapshotMu.RUnlock()

	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clientCount,
		"state":   snap,
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
