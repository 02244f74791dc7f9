package httpapi

import (
	"net/http"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
)

type searchRequest struct {
	Query     string `json:"query"`
	SearchType string `json:"search_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

type searchResponse struct {
	Messages   []searchHit `json:"messages"`
	Pagination pagination  `json:"pagination"`
	TotalHits  int         `json:"total_hits"`
	TookMs     int64       `json:"took_ms"`
	Facets     facets      `json:"facets"`
}

type searchHit struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type facets struct {
	DateHistogram []dateBucket  `json:"date_histogram"`
	TopSenders    []senderCount `json:"top_senders"`
}

type dateBucket struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type senderCount struct {
	SenderID int64 `json:"sender_id"`
	Count    int   `json:"count"`
}

// handleSearchMessages restricts the query to the requesting chat: the
// chat_id and workspace_id always come from the URL/context, never the
// request body, so a caller cannot widen a search beyond a chat they
// were already authorized into by the membership middleware.
func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, r, apperr.New(apperr.KindSearchUnavailable, "search is not configured"))
		return
	}
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	start := time.Now()
	docs, err := s.search.Search(r.Context(), req.Query, []ids.ChatId{chatID}, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	took := time.Since(start)

	hits := make([]searchHit, 0, len(docs))
	dateCounts := map[string]int{}
	senderCounts := map[int64]int{}
	for _, d := range docs {
		hits = append(hits, searchHit{
			MessageID: int64(d.MessageID), ChatID: int64(d.ChatID), SenderID: int64(d.SenderID),
			Content: d.Content, CreatedAt: d.CreatedAt.Format(time.RFC3339Nano),
		})
		dateCounts[d.CreatedAt.Format("2006-01-02")]++
		senderCounts[int64(d.SenderID)]++
	}

	resp := searchResponse{
		Messages:  hits,
		Pagination: pagination{Limit: req.Limit, Offset: req.Offset},
		TotalHits: len(hits),
		TookMs:    took.Milliseconds(),
		Facets:    buildFacets(dateCounts, senderCounts),
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func buildFacets(dateCounts map[string]int, senderCounts map[int64]int) facets {
	var f facets
	for d, c := range dateCounts {
		f.DateHistogram = append(f.DateHistogram, dateBucket{Date: d, Count: c})
	}
	for sid, c := range senderCounts {
		f.TopSenders = append(f.TopSenders, senderCount{SenderID: sid, Count: c})
	}
	return f
}
