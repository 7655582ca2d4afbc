package practice

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/gitapractice/internal/docstore"
)

// ExportHeader is the first CSV row written by [Service.ExportCSV].
var ExportHeader = []string{"chapter", "verse_id", "phrase"}

// ExportCSV writes every practice item of user to w as CSV, header first. A
// missing phrase is written as an empty field.
func (s *Service) ExportCSV(ctx context.Context, user string, w io.Writer) error {
	items, err := all[PracticeItem](ctx, s, docstore.CollectionPracticeItem, docstore.Filter{"user_id": s.User(user)})
	if err != nil {
		return fmt.Errorf("practice: export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("practice: export: %w", err)
	}
	for _, it := range items {
		phrase := ""
		if it.Phrase != nil {
			phrase = *it.Phrase
		}
		if err := cw.Write([]string{strconv.Itoa(it.Chapter), it.VerseID, phrase}); err != nil {
			return fmt.Errorf("practice: export: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("practice: export: %w", err)
	}
	return nil
}

// ExportFilename is the attachment name for user's export. Characters other
// than letters, digits, '-', '_' and '.' are replaced so the name is safe in
// a Content-Disposition header.
func (s *Service) ExportFilename(user string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s.User(user))
	return "practice_" + safe + ".csv"
}
