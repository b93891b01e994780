package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/theamal11z/Rex68/internal/chat"
	"github.com/theamal11z/Rex68/internal/conversation"
	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/memory"
)

type healthResponse struct {
	Status string       `json:"status"`
	Stats  memory.Stats `json:"stats"`
}

type conversationResponse struct {
	UserID       string `json:"userId"`
	MessageCount int    `json:"messageCount"`
	LastMessage  string `json:"lastMessage"`
}

type memoryResponse struct {
	UserID      string          `json:"userId"`
	Context     json.RawMessage `json:"context"`
	LastUpdated string          `json:"lastUpdated"`
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
	Trigger string `json:"trigger,omitempty"`
}

type chatResponse struct {
	UserMessage memory.Message `json:"userMessage"`
	Reply       memory.Message `json:"reply"`
	Tone        string         `json:"tone"`
	Trigger     string         `json:"trigger,omitempty"`
	Fallback    bool           `json:"fallback"`
}

type timelineEntry struct {
	LocalID string         `json:"localId,omitempty"`
	State   string         `json:"state"`
	Message memory.Message `json:"message"`
}

type timelineResponse struct {
	UserID  string          `json:"userId"`
	Pending int             `json:"pending"`
	Entries []timelineEntry `json:"entries"`
}

type summaryResponse struct {
	Summary  string `json:"summary"`
	Overview string `json:"overview,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.handlers.Store.Stats(r.Context())
	if err != nil {
		log.Printf("[api] health stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: stats})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.handlers.Store.GetMessages(r.Context(), r.PathValue("userId"), 0)
	if err != nil {
		log.Printf("[api] get messages error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeMessage(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message data: "+err.Error())
		return
	}
	msg, err := s.handlers.Store.AddMessage(r.Context(), memory.Message{
		UserID:     req.UserID,
		Content:    req.Content,
		IsFromUser: req.fromUser(),
	})
	if err != nil {
		log.Printf("[api] save message error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}
	if s.handlers.Chat != nil {
		s.handlers.Chat.Timeline(r.Context(), msg.UserID).Apply(conversation.Confirmed{Message: msg})
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req chatRequest
	if err := decodeValid(data, chatSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chat request: "+err.Error())
		return
	}

	var reply chat.Reply
	if t := strings.TrimSpace(req.Trigger); t != "" {
		reply, err = s.handlers.Chat.HandleTrigger(r.Context(), req.UserID, t, req.Content)
	} else {
		reply, err = s.handlers.Chat.HandleMessage(r.Context(), req.UserID, req.Content)
	}
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrUnknownTrigger):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		log.Printf("[api] chat turn error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		UserMessage: reply.UserMessage,
		Reply:       reply.Message,
		Tone:        reply.Tone,
		Trigger:     reply.Trigger,
		Fallback:    reply.Fallback,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	infos, err := s.handlers.Store.ListConversations(r.Context())
	if err != nil {
		log.Printf("[api] list conversations error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user IDs")
		return
	}
	out := make([]conversationResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, conversationResponse{
			UserID:       info.UserID,
			MessageCount: info.MessageCount,
			LastMessage:  info.LastMessage.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	ok, err := s.handlers.Store.DeleteConversation(r.Context(), userID)
	if err != nil {
		log.Printf("[api] delete conversation error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	if s.handlers.Chat != nil {
		s.handlers.Chat.Forget(userID)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeDeleted(w, "Conversation")
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	userID := r.PathValue("userId")
	tl := s.handlers.Chat.Timeline(r.Context(), userID)
	entries := tl.Messages()
	out := timelineResponse{UserID: userID, Pending: tl.PendingCount(), Entries: make([]timelineEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, timelineEntry{LocalID: e.LocalID, State: e.State.String(), Message: e.Message})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.handlers.Store.GetMessages(r.Context(), r.PathValue("userId"), 0)
	if err != nil {
		log.Printf("[api] summary messages error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate conversation summary")
		return
	}
	if len(msgs) == 0 {
		writeError(w, http.StatusNotFound, "No messages found for this user")
		return
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "Rex"
		if m.IsFromUser {
			role = "User"
		}
		lines = append(lines, role+": "+m.Content)
	}
	overview := history.SummarizeConversation(msgs)

	resp := summaryResponse{Overview: overview}
	if s.handlers.Summarizer != nil {
		resp.Summary = s.handlers.Summarizer.Summarize(r.Context(), strings.Join(lines, "\n"))
	}
	if resp.Summary == "" {
		resp.Summary = overview
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.handlers.Store.GetMemory(r.Context(), r.PathValue("userId"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Memory not found for this user")
		return
	}
	if err != nil {
		log.Printf("[api] get memory error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve memory")
		return
	}
	writeMemory(w, http.StatusOK, rec)
}

func (s *Server) handlePutMemory(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeMemory(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memory data: "+err.Error())
		return
	}
	mc, err := memory.DecodeContext(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memory data: "+err.Error())
		return
	}

	status := http.StatusOK
	if _, err := s.handlers.Store.GetMemory(r.Context(), req.UserID); errors.Is(err, memory.ErrNotFound) {
		status = http.StatusCreated
	} else if err != nil {
		log.Printf("[api] load memory error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save memory")
		return
	}

	rec, err := s.handlers.Store.PutMemory(r.Context(), req.UserID, mc)
	if err != nil {
		log.Printf("[api] save memory error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save memory")
		return
	}
	writeMemory(w, status, rec)
}

func writeMemory(w http.ResponseWriter, status int, rec *memory.Record) {
	raw, err := memory.EncodeContext(rec.Context)
	if err != nil {
		log.Printf("[api] encode memory error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to encode memory")
		return
	}
	writeJSON(w, status, memoryResponse{
		UserID:      rec.UserID,
		Context:     raw,
		LastUpdated: rec.LastUpdated.UTC().Format(timeFormat),
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.handlers.Store.ListSettings(r.Context())
	if err != nil {
		log.Printf("[api] list settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve settings")
		return
	}
	if settings == nil {
		settings = []memory.Setting{}
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleCreateSetting(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req memory.Setting
	if err := decodeValid(data, settingSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid setting data: "+err.Error())
		return
	}
	setting, err := s.handlers.Store.PutSetting(r.Context(), req.Key, req.Value)
	if err != nil {
		log.Printf("[api] create setting error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create setting")
		return
	}
	writeJSON(w, http.StatusCreated, setting)
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req memory.Setting
	if err := decodeValid(data, settingValueSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Value is required")
		return
	}

	if _, err := s.handlers.Store.GetSetting(r.Context(), key); errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Setting not found")
		return
	} else if err != nil {
		log.Printf("[api] load setting error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update setting")
		return
	}

	setting, err := s.handlers.Store.PutSetting(r.Context(), key, req.Value)
	if err != nil {
		log.Printf("[api] update setting error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update setting")
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	ok, err := s.handlers.Store.DeleteSetting(r.Context(), r.PathValue("key"))
	if err != nil {
		log.Printf("[api] delete setting error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete setting")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Setting not found")
		return
	}
	writeDeleted(w, "Setting")
}

// handleListContents filters by ?type= or runs a full-text search with ?q=.
func (s *Server) handleListContents(w http.ResponseWriter, r *http.Request) {
	var (
		items []memory.ContentItem
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err = s.handlers.Store.SearchContents(r.Context(), q, limit)
	} else {
		items, err = s.handlers.Store.ListContents(r.Context(), r.URL.Query().Get("type"))
	}
	if err != nil {
		log.Printf("[api] list contents error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve contents")
		return
	}
	if items == nil {
		items = []memory.ContentItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req memory.ContentItem
	if err := decodeValid(data, contentSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid content data: "+err.Error())
		return
	}
	item, err := s.handlers.Store.AddContent(r.Context(), memory.ContentItem{Type: req.Type, Content: req.Content})
	if err != nil {
		log.Printf("[api] create content error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create content")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid content ID")
		return
	}
	ok, err := s.handlers.Store.DeleteContent(r.Context(), id)
	if err != nil {
		log.Printf("[api] delete content error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete content")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Content not found")
		return
	}
	writeDeleted(w, "Content")
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	phrases, err := s.handlers.Store.ListTriggerPhrases(r.Context(), activeOnly)
	if err != nil {
		log.Printf("[api] list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trigger phrases")
		return
	}
	if phrases == nil {
		phrases = []memory.TriggerPhrase{}
	}
	writeJSON(w, http.StatusOK, phrases)
}

// handlePutTrigger creates or replaces a trigger phrase. Omitted "active"
// means active.
func (s *Server) handlePutTrigger(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := memory.TriggerPhrase{Active: true}
	if err := decodeValid(data, triggerSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid trigger data: "+err.Error())
		return
	}
	req.ID = 0
	phrase, err := s.handlers.Store.PutTriggerPhrase(r.Context(), req)
	if err != nil {
		log.Printf("[api] save trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save trigger phrase")
		return
	}
	writeJSON(w, http.StatusCreated, phrase)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid trigger ID")
		return
	}
	ok, err := s.handlers.Store.DeleteTriggerPhrase(r.Context(), id)
	if err != nil {
		log.Printf("[api] delete trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete trigger phrase")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Trigger phrase not found")
		return
	}
	writeDeleted(w, "Trigger phrase")
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.handlers.Jobs.ListJobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not configured")
		return
	}
	if err := s.handlers.Jobs.RunNow(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}
