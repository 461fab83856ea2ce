// Package backendtest runs an in-process chat backend for tests: query and
// mutation functions, conditional REST resources and websocket topics.
package backendtest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/transport"
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	subs map[string]bool
}

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake backend. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	messages     map[string][]models.Message
	chats        []models.ChatSummary
	players      map[string]models.Player
	restrictions map[string]models.Restriction
	sendErr      string
	offline      bool
	calls        map[string]int
	frames       []transport.Frame
	clients      map[*client]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New starts a backend that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		messages:     make(map[string][]models.Message),
		players:      make(map[string]models.Player),
		restrictions: make(map[string]models.Restriction),
		calls:        make(map[string]int),
		clients:      make(map[*client]bool),
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/query", s.function)
	r.POST("/api/mutation", s.function)
	r.GET("/api/chats", s.listChatsREST)
	r.GET("/api/players/:id", s.player)
	r.GET("/api/restrictions/:user_id", s.restriction)
	r.GET("/ws", s.socket)

	s.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		s.DropConnections()
		s.Server.Close()
	})
	return s
}

// SetOffline makes every request except REST lookups fail with 503 and
// refuses websocket upgrades.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
	if offline {
		s.DropConnections()
	}
}

// SetSendError makes chat:sendMessage fail with msg. Empty clears it.
func (s *Server) SetSendError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = msg
}

func (s *Server) SetChats(chats ...models.ChatSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
}

func (s *Server) SetPlayer(p models.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = p
}

func (s *Server) SetRestriction(userID string, r models.Restriction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrictions[userID] = r
}

// Seed stores history without broadcasting it.
func (s *Server) Seed(msgs ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.store(m)
	}
}

// Publish stores msg and pushes it to subscribers of its chat.
func (s *Server) Publish(msg models.Message) {
	s.mu.Lock()
	s.store(msg)
	s.mu.Unlock()
	s.broadcast(msg)
}

// PublishRaw pushes data verbatim to subscribers of chatID.
func (s *Server) PublishRaw(chatID string, data []byte) {
	for _, c := range s.subscribers(chatID) {
		_ = c.writeRaw(data)
	}
}

// Calls counts invocations of a function path or REST route.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Messages returns the stored history of chatID.
func (s *Server) Messages(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[chatID]...)
}

// Subscribed reports whether any socket is subscribed to chatID.
func (s *Server) Subscribed(chatID string) bool {
	return len(s.subscribers(chatID)) > 0
}

// Connections is the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Frames returns every frame received from clients.
func (s *Server) Frames() []transport.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Frame(nil), s.frames...)
}

// DropConnections closes every open socket.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func (s *Server) store(m models.Message) {
	m.Status = ""
	list := s.messages[m.ChatID]
	i := sort.Search(len(list), func(i int) bool { return list[i].TS >= m.TS })
	if i < len(list) && list[i].TS == m.TS {
		return
	}
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	s.messages[m.ChatID] = list
}

func (s *Server) subscribers(chatID string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client
	for c := range s.clients {
		if c.subs[chatID] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) broadcast(m models.Message) {
	m.Status = ""
	data, _ := json.Marshal(m)
	frame := transport.Frame{Type: transport.FrameMessage, Destination: transport.Topic(m.ChatID), Data: data}
	for _, c := range s.subscribers(m.ChatID) {
		_ = c.write(frame)
	}
}

type functionCall struct {
	Path string          `json:"path"`
	Args json.RawMessage `json:"args"`
}

type messageArgs struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	TS      string `json:"ts"`
	Limit   int    `json:"limit"`
	After   string `json:"after"`
}

func success(c *gin.Context, value any) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "value": value})
}

func failure(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"status": "error", "errorMessage": msg})
}

func (s *Server) function(c *gin.Context) {
	var call functionCall
	if err := c.ShouldBindJSON(&call); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var args messageArgs
	_ = json.Unmarshal(call.Args, &args)

	s.mu.Lock()
	s.calls[call.Path]++
	offline := s.offline
	sendErr := s.sendErr
	s.mu.Unlock()

	if offline {
		c.String(http.StatusServiceUnavailable, "backend unavailable")
		return
	}

	switch call.Path {
	case "chat:sendMessage":
		if sendErr != "" {
			failure(c, fmt.Sprintf("[Request ID: %s] Server Error Uncaught Error: %s", uuid.NewString()[:8], sendErr))
			return
		}
		if args.ChatID == "" || args.TS == "" {
			failure(c, "chatId and ts are required")
			return
		}
		// The bearer token doubles as the sender id.
		senderID := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if senderID == "" {
			senderID = "anonymous"
		}
		msg := models.Message{ChatID: args.ChatID, TS: args.TS, SenderID: senderID, Content: args.Content}
		s.Publish(msg)
		success(c, gin.H{"id": uuid.NewString()})
	case "chat:getMessages":
		success(c, s.page(args.ChatID, args.Limit, args.After))
	case "chat:listChats":
		s.mu.Lock()
		chats := append([]models.ChatSummary{}, s.chats...)
		s.mu.Unlock()
		success(c, chats)
	default:
		failure(c, "unknown function "+call.Path)
	}
}

func (s *Server) page(chatID string, limit int, after string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[chatID]
	end := len(list)
	if after != "" {
		end = sort.Search(len(list), func(i int) bool { return list[i].TS >= after })
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return append([]models.Message{}, list[start:end]...)
}

// conditional serves v with an ETag derived from its encoding.
func conditional(c *gin.Context, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	etag := fmt.Sprintf(`"%x"`, sha256.Sum256(body))
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) listChatsREST(c *gin.Context) {
	s.mu.Lock()
	s.calls["GET /api/chats"]++
	chats := append([]models.ChatSummary{}, s.chats...)
	s.mu.Unlock()
	conditional(c, chats)
}

func (s *Server) player(c *gin.Context) {
	s.mu.Lock()
	s.calls["GET /api/players"]++
	p, ok := s.players[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	conditional(c, p)
}

func (s *Server) restriction(c *gin.Context) {
	s.mu.Lock()
	s.calls["GET /api/restrictions"]++
	r, ok := s.restrictions[c.Param("user_id")]
	s.mu.Unlock()
	if !ok {
		r = models.Restriction{Status: models.RestrictionNone}
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) socket(c *gin.Context) {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		c.String(http.StatusServiceUnavailable, "backend unavailable")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &client{conn: conn, subs: make(map[string]bool)}
	s.mu.Lock()
	s.clients[cl] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		chatID, ok := transport.ChatIDFromTopic(f.Destination)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.frames = append(s.frames, f)
		switch f.Type {
		case transport.FrameSubscribe:
			cl.subs[chatID] = true
		case transport.FrameUnsubscribe:
			delete(cl.subs, chatID)
		}
		s.mu.Unlock()
	}
}
