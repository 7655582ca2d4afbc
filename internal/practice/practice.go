// Package practice records what a learner does with the verses: bookmarks,
// progress entries carrying a pronunciation score, and phrases saved for
// extra practice. Records are append-only documents in a [docstore.Store],
// one collection per record kind, tagged with the learner's user id.
package practice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/gitapractice/internal/docstore"
	"github.com/MrWong99/gitapractice/internal/verse"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("practice: invalid record")

// Progress statuses.
const (
	StatusLearning = "learning"
	StatusMastered = "mastered"
	StatusReview   = "review"
)

// Defaults applied by [New].
const (
	DefaultUser             = "public"
	DefaultMasteryThreshold = 85.0
)

// Meta is the bookkeeping the store adds to every record.
type Meta struct {
	ID        string    `json:"_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bookmark marks a favourite verse.
type Bookmark struct {
	Meta
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Note    *string `json:"note"`
}

// Progress is one practice outcome for a verse.
type Progress struct {
	Meta
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Status  string  `json:"status"`
	Score   float64 `json:"score"`
}

// PracticeItem is a verse, or a phrase from it, queued for extra practice.
type PracticeItem struct {
	Meta
	UserID  string  `json:"user_id"`
	Chapter int     `json:"chapter"`
	VerseID string  `json:"verse_id"`
	Phrase  *string `json:"phrase"`
}

// Stats summarises a learner's records.
type Stats struct {
	BookmarkCount int     `json:"bookmark_count"`
	ProgressCount int     `json:"progress_count"`
	MasteredCount int     `json:"mastered_count"`
	AvgScore      float64 `json:"avg_score"`
}

// Option configures a [Service].
type Option func(*Service)

// WithDefaultUser sets the user id applied to records without one.
func WithDefaultUser(user string) Option {
	return func(s *Service) {
		if user != "" {
			s.defaultUser = user
		}
	}
}

// WithMasteryThreshold sets the initial mastery threshold.
func WithMasteryThreshold(threshold float64) Option {
	return func(s *Service) { s.SetMasteryThreshold(threshold) }
}

// Service validates and stores practice records. It is safe for concurrent
// use; the mastery threshold can be changed while requests are in flight.
type Service struct {
	store       docstore.Store
	defaultUser string
	threshold   atomic.Uint64 // math.Float64bits
}

// New creates a [Service] on top of store.
func New(store docstore.Store, opts ...Option) *Service {
	s := &Service{store: store, defaultUser: DefaultUser}
	s.threshold.Store(math.Float64bits(DefaultMasteryThreshold))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MasteryThreshold returns the score at or above which progress counts as
// mastered.
func (s *Service) MasteryThreshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// SetMasteryThreshold replaces the mastery threshold. Values outside 0..100
// are ignored.
func (s *Service) SetMasteryThreshold(threshold float64) {
	if threshold < 0 || threshold > 100 || math.IsNaN(threshold) {
		return
	}
	s.threshold.Store(math.Float64bits(threshold))
}

// User returns user, or the default user when user is blank.
func (s *Service) User(user string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	return s.defaultUser
}

// ── Bookmarks ────────────────────────────────────────────────────────────────

// AddBookmark validates b, fills the default user and stores it.
func (s *Service) AddBookmark(ctx context.Context, b Bookmark) (Bookmark, error) {
	b.UserID = s.User(b.UserID)
	if err := validateRef(b.Chapter, b.VerseID); err != nil {
		return Bookmark{}, err
	}
	doc, err := s.store.Create(ctx, docstore.CollectionBookmark, map[string]any{
		"user_id":  b.UserID,
		"chapter":  b.Chapter,
		"verse_id": b.VerseID,
		"note":     b.Note,
	})
	if err != nil {
		return Bookmark{}, fmt.Errorf("practice: add bookmark: %w", err)
	}
	b.Meta = metaOf(doc)
	return b, nil
}

// Bookmarks lists a user's bookmarks in creation order.
func (s *Service) Bookmarks(ctx context.Context, user string, limit int) ([]Bookmark, error) {
	return list[Bookmark](ctx, s, docstore.CollectionBookmark, user, limit)
}

// ── Progress ─────────────────────────────────────────────────────────────────

// AddProgress validates p and stores it. An empty status is derived from the
// score: mastered at or above the threshold, learning below it.
func (s *Service) AddProgress(ctx context.Context, p Progress) (Progress, error) {
	p.UserID = s.User(p.UserID)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if p.Status == "" {
		p.Status = StatusLearning
		if p.Score >= s.MasteryThreshold() {
			p.Status = StatusMastered
		}
	}

	var errs []error
	if err := validateRef(p.Chapter, p.VerseID); err != nil {
		errs = append(errs, err)
	}
	switch p.Status {
	case StatusLearning, StatusMastered, StatusReview:
	default:
		errs = append(errs, fmt.Errorf("%w: status %q must be one of learning, mastered, review", ErrInvalid, p.Status))
	}
	if math.IsNaN(p.Score) || p.Score < 0 || p.Score > 100 {
		errs = append(errs, fmt.Errorf("%w: score %v must be within 0..100", ErrInvalid, p.Score))
	}
	if len(errs) > 0 {
		return Progress{}, errors.Join(errs...)
	}

	doc, err := s.store.Create(ctx, docstore.CollectionProgress, map[string]any{
		"user_id":  p.UserID,
		"chapter":  p.Chapter,
		"verse_id": p.VerseID,
		"status":   p.Status,
		"score":    p.Score,
	})
	if err != nil {
		return Progress{}, fmt.Errorf("practice: add progress: %w", err)
	}
	p.Meta = metaOf(doc)
	return p, nil
}

// Progress lists a user's progress entries in creation order.
func (s *Service) Progress(ctx context.Context, user string, limit int) ([]Progress, error) {
	return list[Progress](ctx, s, docstore.CollectionProgress, user, limit)
}

// ── Practice items ───────────────────────────────────────────────────────────

// AddPracticeItem validates it and stores it.
func (s *Service) AddPracticeItem(ctx context.Context, it PracticeItem) (PracticeItem, error) {
	it.UserID = s.User(it.UserID)
	if err := validateRef(it.Chapter, it.VerseID); err != nil {
		return PracticeItem{}, err
	}
	doc, err := s.store.Create(ctx, docstore.CollectionPracticeItem, map[string]any{
		"user_id":  it.UserID,
		"chapter":  it.Chapter,
		"verse_id": it.VerseID,
		"phrase":   it.Phrase,
	})
	if err != nil {
		return PracticeItem{}, fmt.Errorf("practice: add practice item: %w", err)
	}
	it.Meta = metaOf(doc)
	return it, nil
}

// PracticeItems lists a user's practice items in creation order.
func (s *Service) PracticeItems(ctx context.Context, user string, limit int) ([]PracticeItem, error) {
	return list[PracticeItem](ctx, s, docstore.CollectionPracticeItem, user, limit)
}

// ── Stats ────────────────────────────────────────────────────────────────────

// Stats counts a user's records. Progress is mastered when its status says
// so or its score reaches the mastery threshold. The average score is
// rounded to two decimals and is 0 without progress.
func (s *Service) Stats(ctx context.Context, user string) (Stats, error) {
	filter := docstore.Filter{"user_id": s.User(user)}

	bookmarks, err := s.store.Count(ctx, docstore.CollectionBookmark, filter)
	if err != nil {
		return Stats{}, fmt.Errorf("practice: stats: %w", err)
	}
	progress, err := all[Progress](ctx, s, docstore.CollectionProgress, filter)
	if err != nil {
		return Stats{}, fmt.Errorf("practice: stats: %w", err)
	}

	st := Stats{BookmarkCount: bookmarks, ProgressCount: len(progress)}
	threshold := s.MasteryThreshold()
	var total float64
	for _, p := range progress {
		if p.Status == StatusMastered || p.Score >= threshold {
			st.MasteredCount++
		}
		total += p.Score
	}
	if len(progress) > 0 {
		st.AvgScore = math.Round(total/float64(len(progress))*100) / 100
	}
	return st, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func validateRef(chapter int, verseID string) error {
	var errs []error
	if chapter < verse.MinChapter || chapter > verse.MaxChapter {
		errs = append(errs, fmt.Errorf("%w: chapter %d must be within %d..%d", ErrInvalid, chapter, verse.MinChapter, verse.MaxChapter))
	}
	if strings.TrimSpace(verseID) == "" {
		errs = append(errs, fmt.Errorf("%w: verse_id is required", ErrInvalid))
	}
	return errors.Join(errs...)
}

func metaOf(doc docstore.Document) Meta {
	return Meta{ID: doc.ID, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}
}

func (b *Bookmark) setMeta(m Meta)      { b.Meta = m }
func (p *Progress) setMeta(m Meta)      { p.Meta = m }
func (it *PracticeItem) setMeta(m Meta) { it.Meta = m }

func decode[T any, P interface {
	*T
	setMeta(Meta)
}](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			return nil, err
		}
		P(&v).setMeta(metaOf(doc))
		out = append(out, v)
	}
	return out, nil
}

func list[T any, P interface {
	*T
	setMeta(Meta)
}](ctx context.Context, s *Service, collection, user string, limit int) ([]T, error) {
	docs, err := s.store.Find(ctx, collection, docstore.Filter{"user_id": s.User(user)}, limit)
	if err != nil {
		return nil, fmt.Errorf("practice: list %s: %w", collection, err)
	}
	return decode[T, P](docs)
}

// all returns every matching record regardless of the store's default limit.
func all[T any, P interface {
	*T
	setMeta(Meta)
}](ctx context.Context, s *Service, collection string, filter docstore.Filter) ([]T, error) {
	n, err := s.store.Count(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []T{}, nil
	}
	docs, err := s.store.Find(ctx, collection, filter, n)
	if err != nil {
		return nil, err
	}
	return decode[T, P](docs)
}
