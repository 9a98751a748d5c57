package dictionary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmethakanbesel/diadict/internal/apperror"
	domain "github.com/ahmethakanbesel/diadict/internal/dictionary"
)

const batchSize = 500

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// sectieArg stores a missing section as NULL.
func sectieArg(a domain.Aflevering) any {
	if a.Sectie == 0 {
		return nil
	}
	return a.Sectie
}

func (r *Repository) ReplaceEntries(ctx context.Context, a domain.Aflevering, entries []domain.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace entries: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE deel = ? AND sectie IS ? AND aflevering = ?`,
		a.Deel, sectieArg(a), a.Number,
	); err != nil {
		return fmt.Errorf("replace entries: delete: %w", err)
	}

	lemmaIDs := make(map[string]int64)
	for _, e := range entries {
		if _, ok := lemmaIDs[e.Lemma]; ok {
			continue
		}
		id, err := lemmaID(ctx, tx, e.Lemma)
		if err != nil {
			return err
		}
		lemmaIDs[e.Lemma] = id
	}

	for i := 0; i < len(entries); i += batchSize {
		batch := entries[i:min(i+batchSize, len(entries))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*9)
		for k, e := range batch {
			placeholders[k] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, lemmaIDs[e.Lemma], e.Trefwoord, e.Woord, e.Stad, e.Kloeke, e.Toelichting,
				a.Deel, sectieArg(a), a.Number)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			`INSERT INTO entries (lemma_id, trefwoord, woord, stad, kloeke, toelichting, deel, sectie, aflevering) VALUES %s`,
			strings.Join(placeholders, ", "),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("replace entries: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace entries: commit: %w", err)
	}
	return nil
}

func lemmaID(ctx context.Context, tx *sql.Tx, gloss string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM lemmas WHERE gloss = ? ORDER BY id LIMIT 1`, gloss).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find lemma: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO lemmas (gloss) VALUES (?)`, gloss)
	if err != nil {
		return 0, fmt.Errorf("create lemma: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) CountEntries(ctx context.Context, a domain.Aflevering) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE deel = ? AND sectie IS ? AND aflevering = ?`,
		a.Deel, sectieArg(a), a.Number,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (r *Repository) Lemmas(ctx context.Context) ([]domain.Lemma, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, gloss FROM lemmas ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lemmas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lemmas []domain.Lemma
	for rows.Next() {
		var l domain.Lemma
		if err := rows.Scan(&l.ID, &l.Gloss); err != nil {
			return nil, fmt.Errorf("scan lemma: %w", err)
		}
		lemmas = append(lemmas, l)
	}
	return lemmas, rows.Err()
}

func (r *Repository) UpdateGloss(ctx context.Context, id int64, gloss string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE lemmas SET gloss = ? WHERE id = ?`, gloss, id)
	if err != nil {
		return fmt.Errorf("update gloss: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.NotFound, "lemma not found")
	}
	return nil
}
