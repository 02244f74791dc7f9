package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

type messageView struct {
	ID        int64   `json:"id"`
	ChatID    int64   `json:"chat_id"`
	SenderID  int64   `json:"sender_id"`
	Content   string  `json:"content"`
	Files     []string `json:"files,omitempty"`
	ReplyTo   *int64  `json:"reply_to,omitempty"`
	Mentions  []int64 `json:"mentions,omitempty"`
	CreatedAt string  `json:"created_at"`
	EditedAt  *string `json:"edited_at,omitempty"`
	Deleted   bool    `json:"deleted"`
}

func toMessageView(m *store.Message) messageView {
	v := messageView{
		ID: int64(m.ID), ChatID: int64(m.ChatID), SenderID: int64(m.SenderID),
		Content: m.Content, Files: m.Files, CreatedAt: m.CreatedAt.Format(time.RFC3339Nano), Deleted: m.Deleted,
	}
	if m.ReplyTo != nil {
		r := int64(*m.ReplyTo)
		v.ReplyTo = &r
	}
	for _, mn := range m.Mentions {
		v.Mentions = append(v.Mentions, int64(mn))
	}
	if m.EditedAt != nil {
		s := m.EditedAt.Format(time.RFC3339Nano)
		v.EditedAt = &s
	}
	return v
}

type sendMessageRequest struct {
	Content        string   `json:"content"`
	Files          []string `json:"files,omitempty"`
	ReplyTo        *int64   `json:"reply_to,omitempty"`
	Mentions       []int64  `json:"mentions,omitempty"`
	IdempotencyKey *string  `json:"idempotency_key,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	userID, _ := callerUserID(r)

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	members, err := s.mw.loadMembers(r.Context(), chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	draft := store.Draft{Content: req.Content, Files: req.Files, IdempotencyKey: req.IdempotencyKey}
	if req.ReplyTo != nil {
		rt := ids.MessageId(*req.ReplyTo)
		draft.ReplyTo = &rt
	}
	for _, m := range req.Mentions {
		draft.Mentions = append(draft.Mentions, ids.UserId(m))
	}

	msg, err := s.messages.Send(r.Context(), chatID, userID, draft, members)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMessagePages(r.Context(), chatID)
		for _, mem := range members {
			s.cache.EvictUserChats(r.Context(), mem.UserID)
		}
	}
	// The outbox row written inside Send() is the durable publish path;
	// no direct bus publish happens here (see OutboxPump).
	writeJSON(w, r, http.StatusCreated, toMessageView(msg))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 50, 200)
	afterID := ids.MessageId(0)
	if v := r.URL.Query().Get("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			afterID = ids.MessageId(n)
		}
	}

	var cached []store.Message
	if s.cache != nil && s.cache.GetMessagePage(r.Context(), chatID, afterID, limit, &cached) {
		writeJSON(w, r, http.StatusOK, toMessageViews(cached))
		return
	}
	msgs, err := s.messages.ListByChat(r.Context(), chatID, afterID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.SetMessagePage(r.Context(), chatID, afterID, limit, msgs)
	}
	writeJSON(w, r, http.StatusOK, toMessageViews(msgs))
}

func toMessageViews(msgs []store.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(&m))
	}
	return out
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	msgID, err := strconv.ParseInt(chi.URLParam(r, "message_id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid message id"))
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.messages.Edit(r.Context(), ids.MessageId(msgID), userID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMessagePages(r.Context(), msg.ChatID)
	}
	writeJSON(w, r, http.StatusOK, toMessageView(msg))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	msgID, err := strconv.ParseInt(chi.URLParam(r, "message_id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid message id"))
		return
	}
	msg, err := s.messages.ByID(r.Context(), ids.MessageId(msgID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msg.SenderID != userID {
		members, err := s.mw.loadMembers(r.Context(), msg.ChatID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		allowed := false
		for _, m := range members {
			if m.UserID == userID && (m.Role == store.RoleOwner || m.Role == store.RoleAdmin) {
				allowed = true
				break
			}
		}
		if !allowed {
			writeError(w, r, apperr.New(apperr.KindRoleInsufficient, "only the sender or a chat owner/admin may delete this message"))
			return
		}
	}
	if err := s.messages.Delete(r.Context(), ids.MessageId(msgID)); err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache != nil {
		s.cache.EvictChatMessagePages(r.Context(), msg.ChatID)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
