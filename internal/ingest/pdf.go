// Package ingest turns external documents into entries.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/cortex/internal/notes"
)

// EntriesFromPDF extracts one entry per non-empty page of a PDF file.
// Titles are derived from the file name and page number; the body is
// the page's plain text.
func EntriesFromPDF(path, title string) ([]notes.Entry, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	var entries []notes.Entry
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting text from page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		entries = append(entries, notes.Entry{
			ID:        uuid.New().String(),
			Title:     fmt.Sprintf("%s (page %d)", title, i),
			Body:      text,
			Category:  notes.CategoryIdea,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return entries, nil
}
