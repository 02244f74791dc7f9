package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

type userView struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Status      string `json:"status"`
	WorkspaceID int64  `json:"workspace_id"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	user, err := s.users.ByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUserView(user))
}

func (s *Server) handleWorkspaceUsers(w http.ResponseWriter, r *http.Request) {
	wsIDRaw, err := strconv.ParseInt(chi.URLParam(r, "workspace_id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid workspace id"))
		return
	}
	users, err := s.users.WorkspaceUsers(r.Context(), ids.WorkspaceId(wsIDRaw))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(&u))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func toUserView(u *store.User) userView {
	return userView{
		ID:          int64(u.ID),
		Email:       u.Email,
		FullName:    u.FullName,
		Status:      string(u.Status),
		WorkspaceID: int64(u.WorkspaceID),
	}
}
