package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/gitapractice/internal/pronounce"
	"github.com/MrWong99/gitapractice/internal/verse"
)

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	if s.etagMatches(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": s.dataset.Chapters()})
}

type versesResponse struct {
	Chapter int           `json:"chapter"`
	Verses  []verse.Verse `json:"verses"`
}

// handleVerses serves GET /api/verses?chapter=N[&verse_id=ID].
func (s *Server) handleVerses(w http.ResponseWriter, r *http.Request) {
	chapter, ok, err := intQuery(r, "chapter")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: chapter is required", errBadRequest))
		return
	}

	var verses []verse.Verse
	if id := strings.TrimSpace(r.URL.Query().Get("verse_id")); id != "" {
		v, err := s.dataset.Verse(chapter, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		verses = []verse.Verse{v}
	} else if verses, err = s.dataset.Verses(chapter); err != nil {
		writeError(w, r, err)
		return
	}

	if s.etagMatches(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, versesResponse{Chapter: chapter, Verses: verses})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.etagMatches(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.dataset.Search(r.URL.Query().Get("q"))})
}

// handleDailyVerse serves the verse of the day. ?date=YYYY-MM-DD picks
// another day.
func (s *Server) handleDailyVerse(w http.ResponseWriter, r *http.Request) {
	day := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", errBadRequest, raw))
			return
		}
		day = d
	}
	ref, err := s.dataset.Daily(day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

type evaluateRequest struct {
	TargetText     *string `json:"target_text"`
	RecognizedText *string `json:"recognized_text"`
	Detail         string  `json:"detail"`
}

// handleEvaluate scores a recitation. The detail level comes from the body
// or, taking precedence, from ?detail=.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var missing []string
	if req.TargetText == nil {
		missing = append(missing, "target_text")
	}
	if req.RecognizedText == nil {
		missing = append(missing, "recognized_text")
	}
	if len(missing) > 0 {
		writeError(w, r, fmt.Errorf("%w: %s required", errBadRequest, strings.Join(missing, " and ")))
		return
	}
	detail := req.Detail
	if q := r.URL.Query().Get("detail"); q != "" {
		detail = q
	}

	ev, err := s.evaluator.Evaluate(r.Context(), pronounce.Request{
		TargetText:     *req.TargetText,
		RecognizedText: *req.RecognizedText,
		Detail:         pronounce.Detail(detail),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type chatRequest struct {
	UserID  string  `json:"user_id"`
	Message *string `json:"message"`
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Message == nil {
		writeError(w, r, fmt.Errorf("%w: message is required", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, s.bot.Reply(r.Context(), *req.Message))
}
