package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

type chatView struct {
	ID          int64   `json:"id"`
	WorkspaceID int64   `json:"workspace_id"`
	Name        *string `json:"name,omitempty"`
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
	CreatedBy   int64   `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
}

func toChatView(c *store.Chat) chatView {
	return chatView{
		ID: int64(c.ID), WorkspaceID: int64(c.WorkspaceID), Name: c.Name,
		Type: string(c.Type), Description: c.Description, CreatedBy: int64(c.CreatedBy),
		CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
	}
}

type createChatRequest struct {
	Kind        string  `json:"type"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Members     []int64 `json:"members"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := Authenticated(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	var req createChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	members := make([]ids.UserId, len(req.Members))
	for i, m := range req.Members {
		members[i] = ids.UserId(m)
	}

	chat, err := s.chats.CreateChat(r.Context(), claims.WorkspaceID, claims.UserID, store.ChatType(req.Kind), req.Name, req.Description, members)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.cache != nil {
		s.cache.EvictUserChats(r.Context(), claims.UserID)
		for _, m := range members {
			s.cache.EvictUserChats(r.Context(), m)
		}
	}
	s.publishChatCreated(r, chat)

	writeJSON(w, r, http.StatusCreated, toChatView(chat))
}

func (s *Server) publishChatCreated(r *http.Request, chat *store.Chat) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{"id": chat.ID, "workspace_id": chat.WorkspaceID, "type": chat.Type, "created_by": chat.CreatedBy}
	_ = s.publisher.Publish(r.Context(), bus.SubjectChatCreated, chat.ID.String(), "ChatCreated", payload, bus.Trace{RequestID: requestID(r)}, nil, 0)
}

func (s *Server) handleListUserChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}

	var cached []store.ChatSummary
	if s.cache != nil && s.cache.GetUserChats(r.Context(), userID, &cached) {
		writeJSON(w, r, http.StatusOK, cached)
		return
	}
	summaries, err := s.chats.ListUserChats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.SetUserChats(r.Context(), userID, summaries)
	}
	writeJSON(w, r, http.StatusOK, summaries)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	chat, err := s.chats.ChatByID(r.Context(), chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toChatView(chat))
}

type membersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if !requireRole(w, r, store.RoleOwner, store.RoleAdmin) {
		return
	}
	var req membersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	targets := make([]ids.UserId, len(req.UserIDs))
	for i, u := range req.UserIDs {
		targets[i] = ids.UserId(u)
	}
	added, err := s.chats.AddMembers(r.Context(), chatID, targets)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMembers(r.Context(), chatID)
	}
	for _, uid := range added {
		s.publishMemberEvent(r, bus.SubjectMemberJoined, "ChatMemberAdded", chatID, uid)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) handleRemoveMembers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if !requireRole(w, r, store.RoleOwner, store.RoleAdmin) {
		return
	}
	var req membersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	targets := make([]ids.UserId, len(req.UserIDs))
	for i, u := range req.UserIDs {
		targets[i] = ids.UserId(u)
	}
	removed, err := s.chats.RemoveMembers(r.Context(), chatID, targets)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMembers(r.Context(), chatID)
	}
	for _, uid := range removed {
		s.publishMemberEvent(r, bus.SubjectMemberLeft, "ChatMemberRemoved", chatID, uid)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"removed": removed})
}

// handleJoinChat is not behind the chat-membership middleware stage: its
// precondition is workspace membership plus a public channel, not prior
// chat membership, so it checks both itself.
func (s *Server) handleJoinChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	claims, ok := Authenticated(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	chat, err := s.chats.ChatByID(r.Context(), chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chat.WorkspaceID != claims.WorkspaceID {
		writeError(w, r, apperr.New(apperr.KindWorkspaceMismatch, "chat belongs to a different workspace"))
		return
	}
	if chat.Type != store.ChatPublicChannel {
		writeError(w, r, apperr.New(apperr.KindRoleInsufficient, "only public channels support self-join"))
		return
	}
	userID := claims.UserID
	joined, err := s.chats.Join(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMembers(r.Context(), chatID)
		s.cache.EvictUserChats(r.Context(), userID)
	}
	if joined {
		s.publishMemberEvent(r, bus.SubjectMemberJoined, "ChatMemberAdded", chatID, userID)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"joined": true})
}

func (s *Server) handleLeaveChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	userID, _ := callerUserID(r)
	role, _ := WithChat(r)
	if role == store.RoleOwner {
		writeError(w, r, apperr.New(apperr.KindRoleInsufficient, "owner must transfer ownership before leaving"))
		return
	}
	if err := s.chats.Leave(r.Context(), chatID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMembers(r.Context(), chatID)
		s.cache.EvictUserChats(r.Context(), userID)
	}
	s.publishMemberEvent(r, bus.SubjectMemberLeft, "ChatMemberRemoved", chatID, userID)
	writeJSON(w, r, http.StatusOK, map[string]any{"left": true})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if !requireRole(w, r, store.RoleOwner) {
		return
	}
	userID, _ := callerUserID(r)
	targetRaw, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid user id"))
		return
	}
	if err := s.chats.TransferOwnership(r.Context(), chatID, userID, ids.UserId(targetRaw)); err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMembers(r.Context(), chatID)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"transferred": true})
}

func (s *Server) publishMemberEvent(r *http.Request, subject, eventType string, chatID ids.ChatId, userID ids.UserId) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{"chat_id": chatID, "user_id": userID}
	_ = s.publisher.Publish(r.Context(), subject, chatID.String(), eventType, payload, bus.Trace{RequestID: requestID(r)}, nil, 0)
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (ids.ChatId, bool) {
	raw, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid chat id"))
		return 0, false
	}
	return ids.ChatId(raw), true
}

func requireRole(w http.ResponseWriter, r *http.Request, allowed ...store.MemberRole) bool {
	role, ok := WithChat(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindNotMember, "caller is not a member of this chat"))
		return false
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	writeError(w, r, apperr.New(apperr.KindRoleInsufficient, "caller's role does not permit this action"))
	return false
}
