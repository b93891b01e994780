// Package api serves the admin HTTP API: conversations, memory, settings,
// the content library, trigger phrases and scheduled jobs.
//
// Endpoints:
//
//	GET    /api/health
//	GET    /api/messages/{userId}
//	POST   /api/messages
//	POST   /api/chat
//	GET    /api/conversations
//	DELETE /api/conversations/{userId}
//	GET    /api/conversations/{userId}/summary
//	GET    /api/conversations/{userId}/timeline
//	GET    /api/memory/{userId}
//	POST   /api/memory
//	GET    /api/settings
//	POST   /api/settings
//	PATCH  /api/settings/{key}
//	DELETE /api/settings/{key}
//	GET    /api/contents
//	POST   /api/contents
//	DELETE /api/contents/{id}
//	GET    /api/triggers
//	POST   /api/triggers
//	DELETE /api/triggers/{id}
//	GET    /api/cron/jobs
//	POST   /api/cron/jobs/{id}/run
//
// Everything under /api/ except /api/health requires
// "Authorization: Bearer <token>" when Handlers.Token is set.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/theamal11z/Rex68/internal/chat"
	"github.com/theamal11z/Rex68/internal/conversation"
	"github.com/theamal11z/Rex68/internal/cron"
	"github.com/theamal11z/Rex68/internal/memory"
)

const (
	maxBodyBytes = 1 << 20
	timeFormat   = time.RFC3339
)

// Store is the persistence the API exposes. *memory.Engine satisfies it.
type Store interface {
	AddMessage(ctx context.Context, msg memory.Message) (memory.Message, error)
	GetMessages(ctx context.Context, userID string, limit int) ([]memory.Message, error)
	ListConversations(ctx context.Context) ([]memory.ConversationInfo, error)
	DeleteConversation(ctx context.Context, userID string) (bool, error)
	GetMemory(ctx context.Context, userID string) (*memory.Record, error)
	PutMemory(ctx context.Context, userID string, mem memory.MemoryContext) (*memory.Record, error)
	ListSettings(ctx context.Context) ([]memory.Setting, error)
	GetSetting(ctx context.Context, key string) (memory.Setting, error)
	PutSetting(ctx context.Context, key, value string) (memory.Setting, error)
	DeleteSetting(ctx context.Context, key string) (bool, error)
	ListContents(ctx context.Context, contentType string) ([]memory.ContentItem, error)
	SearchContents(ctx context.Context, query string, limit int) ([]memory.ContentItem, error)
	AddContent(ctx context.Context, item memory.ContentItem) (memory.ContentItem, error)
	DeleteContent(ctx context.Context, id int64) (bool, error)
	ListTriggerPhrases(ctx context.Context, activeOnly bool) ([]memory.TriggerPhrase, error)
	PutTriggerPhrase(ctx context.Context, t memory.TriggerPhrase) (memory.TriggerPhrase, error)
	DeleteTriggerPhrase(ctx context.Context, id int64) (bool, error)
	Stats(ctx context.Context) (memory.Stats, error)
}

// Chat runs conversational turns and owns the live timelines. *chat.Service
// satisfies it.
type Chat interface {
	HandleMessage(ctx context.Context, userID, content string) (chat.Reply, error)
	HandleTrigger(ctx context.Context, userID, triggerName, content string) (chat.Reply, error)
	Timeline(ctx context.Context, userID string) *conversation.Timeline
	Forget(userID string)
}

// Summarizer produces abstractive summaries. *relevance.Filter satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, text string) string
}

// Jobs exposes the scheduler. *cron.Service satisfies it.
type Jobs interface {
	ListJobs() []cron.Job
	RunNow(id string) error
}

// Handlers holds the collaborators behind the routes. Chat, Summarizer,
// Jobs and Static are optional; their routes answer 503 (or 404 for Static)
// when unset.
type Handlers struct {
	Store      Store
	Chat       Chat
	Summarizer Summarizer
	Jobs       Jobs
	// Static serves everything outside /api/, typically the web UI.
	Static http.Handler
	Token  string
}

type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
}

func New(addr string, h Handlers) *Server {
	s := &Server{addr: addr, handlers: h}

	inner := http.NewServeMux()
	inner.HandleFunc("GET /api/messages/{userId}", s.handleGetMessages)
	inner.HandleFunc("POST /api/messages", s.handleCreateMessage)
	inner.HandleFunc("POST /api/chat", s.handleChat)
	inner.HandleFunc("GET /api/conversations", s.handleListConversations)
	inner.HandleFunc("DELETE /api/conversations/{userId}", s.handleDeleteConversation)
	inner.HandleFunc("GET /api/conversations/{userId}/summary", s.handleSummary)
	inner.HandleFunc("GET /api/conversations/{userId}/timeline", s.handleTimeline)
	inner.HandleFunc("GET /api/memory/{userId}", s.handleGetMemory)
	inner.HandleFunc("POST /api/memory", s.handlePutMemory)
	inner.HandleFunc("GET /api/settings", s.handleListSettings)
	inner.HandleFunc("POST /api/settings", s.handleCreateSetting)
	inner.HandleFunc("PATCH /api/settings/{key}", s.handleUpdateSetting)
	inner.HandleFunc("DELETE /api/settings/{key}", s.handleDeleteSetting)
	inner.HandleFunc("GET /api/contents", s.handleListContents)
	inner.HandleFunc("POST /api/contents", s.handleCreateContent)
	inner.HandleFunc("DELETE /api/contents/{id}", s.handleDeleteContent)
	inner.HandleFunc("GET /api/triggers", s.handleListTriggers)
	inner.HandleFunc("POST /api/triggers", s.handlePutTrigger)
	inner.HandleFunc("DELETE /api/triggers/{id}", s.handleDeleteTrigger)
	inner.HandleFunc("GET /api/cron/jobs", s.handleListJobs)
	inner.HandleFunc("POST /api/cron/jobs/{id}/run", s.handleRunJob)

	outer := http.NewServeMux()
	outer.HandleFunc("GET /api/health", s.handleHealth)
	outer.Handle("/api/", s.authMiddleware(inner))
	if h.Static != nil {
		outer.Handle("/", h.Static)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           outer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// authMiddleware rejects requests without the configured bearer token. An
// empty token disables the check.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	log.Printf("[api] listening on %s", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeDeleted(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": what + " deleted successfully"})
}
