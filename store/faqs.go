package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"echomind/models"
)

// FAQStore serves the read-only FAQ collection. Writes only happen through
// Replace, which the seed command uses.
type FAQStore struct {
	db *sql.DB
}

func NewFAQStore(db *sql.DB) *FAQStore {
	return &FAQStore{db: db}
}

// List returns every FAQ entry grouped by category in insertion order.
func (s *FAQStore) List(ctx context.Context) ([]models.FAQ, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, answer, tags, category, created_at, updated_at
		 FROM faqs ORDER BY category, created_at`)
	if err != nil {
		return nil, &StoreError{Op: "faq list", Err: err}
	}
	defer rows.Close()

	faqs := []models.FAQ{}
	for rows.Next() {
		var (
			faq      models.FAQ
			tagsJSON []byte
		)
		if err := rows.Scan(&faq.ID, &faq.Question, &faq.Answer, &tagsJSON,
			&faq.Category, &faq.CreatedAt, &faq.UpdatedAt); err != nil {
			return nil, &StoreError{Op: "faq list", Err: err}
		}
		if err := json.Unmarshal(tagsJSON, &faq.Tags); err != nil {
			return nil, &StoreError{Op: "faq list", Err: err}
		}
		faqs = append(faqs, faq)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "faq list", Err: err}
	}
	return faqs, nil
}

// Replace clears the collection and inserts the given entries, the way the
// seed data has always been loaded.
func (s *FAQStore) Replace(ctx context.Context, faqs []models.FAQ) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "faq replace", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM faqs"); err != nil {
		return &StoreError{Op: "faq replace", Err: err}
	}

	now := time.Now().UTC()
	for _, faq := range faqs {
		tagsJSON, err := json.Marshal(faq.Tags)
		if err != nil {
			return &StoreError{Op: "faq replace", Err: err}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO faqs (id, question, answer, tags, category, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), faq.Question, faq.Answer, tagsJSON, faq.Category, now, now)
		if err != nil {
			return &StoreError{Op: "faq replace", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "faq replace", Err: err}
	}
	return nil
}
