package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/gitapractice/internal/practice"
)

// Request bodies mirror the record types without the store metadata. A
// missing chapter decodes as 0 and fails validation.

type bookmarkRequest struct {
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Note    *string `json:"note"`
}

type progressRequest struct {
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Status  string  `json:"status"`
	Score   float64 `json:"score"`
}

type practiceItemRequest struct {
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Phrase  *string `json:"phrase"`
}

type exportRequest struct {
	UserID string `json:"user_id"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.practice.AddBookmark(r.Context(), practice.Bookmark{
		UserID: req.UserID, Chapter: req.Chapter, VerseID: req.VerseID, Note: req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createdResponse{ID: b.ID})
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	user, limit, err := s.listParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.practice.Bookmarks(r.Context(), user, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[practice.Bookmark]{Items: items})
}

func (s *Server) handleAddProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.practice.AddProgress(r.Context(), practice.Progress{
		UserID: req.UserID, Chapter: req.Chapter, VerseID: req.VerseID, Status: req.Status, Score: req.Score,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createdResponse{ID: p.ID})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	user, limit, err := s.listParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.practice.Progress(r.Context(), user, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[practice.Progress]{Items: items})
}

func (s *Server) handleAddPracticeItem(w http.ResponseWriter, r *http.Request) {
	var req practiceItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	it, err := s.practice.AddPracticeItem(r.Context(), practice.PracticeItem{
		UserID: req.UserID, Chapter: req.Chapter, VerseID: req.VerseID, Phrase: req.Phrase,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createdResponse{ID: it.ID})
}

func (s *Server) handlePracticeItems(w http.ResponseWriter, r *http.Request) {
	user, limit, err := s.listParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.practice.PracticeItems(r.Context(), user, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[practice.PracticeItem]{Items: items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.practice.Stats(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleExport streams the user's practice items as a CSV attachment. The
// CSV is built in memory first so that a store failure still yields a JSON
// error instead of a truncated file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	var buf bytes.Buffer
	if err := s.practice.ExportCSV(r.Context(), req.UserID, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", s.practice.ExportFilename(req.UserID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// listParams reads ?user_id= and ?limit=. A missing limit is 0, which the
// store replaces with its default; larger limits are clamped to maxLimit.
func (s *Server) listParams(r *http.Request) (user string, limit int, err error) {
	user = strings.TrimSpace(r.URL.Query().Get("user_id"))
	limit, _, err = intQuery(r, "limit")
	if err != nil {
		return "", 0, err
	}
	if limit < 0 {
		return "", 0, fmt.Errorf("%w: limit must not be negative", errBadRequest)
	}
	return user, min(limit, s.maxLimit), nil
}
