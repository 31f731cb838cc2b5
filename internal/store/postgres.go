package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists lectures and slides in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lectures (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			deck_path TEXT NOT NULL,
			hypothesis TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS slides (
			id TEXT PRIMARY KEY,
			lecture_id TEXT NOT NULL REFERENCES lectures(id) ON DELETE CASCADE,
			slide_number INTEGER NOT NULL,
			script TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			hypothesis_use TEXT NOT NULL DEFAULT '',
			audio_path TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (lecture_id, slide_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_slides_lecture_number ON slides (lecture_id, slide_number);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateLecture(ctx context.Context, lec Lecture) (Lecture, error) {
	if lec.ID == "" {
		lec.ID = uuid.NewString()
	}
	if lec.CreatedAt.IsZero() {
		lec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO lectures (id, title, deck_path, hypothesis, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		lec.ID, lec.Title, lec.DeckPath, lec.Hypothesis, lec.CreatedAt,
	)
	if err != nil {
		return Lecture{}, fmt.Errorf("create lecture: %w", err)
	}
	return lec, nil
}

func (s *PostgresStore) GetLecture(ctx context.Context, id string) (Lecture, error) {
	var lec Lecture
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, deck_path, hypothesis, created_at FROM lectures WHERE id=$1`,
		id,
	).Scan(&lec.ID, &lec.Title, &lec.DeckPath, &lec.Hypothesis, &lec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lecture{}, ErrNotFound
	}
	if err != nil {
		return Lecture{}, fmt.Errorf("get lecture: %w", err)
	}
	return lec, nil
}

func (s *PostgresStore) UpdateHypothesis(ctx context.Context, id, hypothesis string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lectures SET hypothesis=$2 WHERE id=$1`,
		id, hypothesis,
	)
	if err != nil {
		return fmt.Errorf("update hypothesis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetLecture(ctx context.Context, id, title, deckPath, hypothesis string) (Lecture, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Lecture{}, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM slides WHERE lecture_id=$1`, id); err != nil {
		return Lecture{}, fmt.Errorf("reset delete slides: %w", err)
	}

	var lec Lecture
	err = tx.QueryRow(ctx,
		`UPDATE lectures SET title=$2, deck_path=$3, hypothesis=$4
		 WHERE id=$1
		 RETURNING id, title, deck_path, hypothesis, created_at`,
		id, title, deckPath, hypothesis,
	).Scan(&lec.ID, &lec.Title, &lec.DeckPath, &lec.Hypothesis, &lec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lecture{}, ErrNotFound
	}
	if err != nil {
		return Lecture{}, fmt.Errorf("reset lecture: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Lecture{}, fmt.Errorf("commit reset: %w", err)
	}
	return lec, nil
}

func (s *PostgresStore) UpsertSlide(ctx context.Context, sl Slide) (Slide, error) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	if sl.UpdatedAt.IsZero() {
		sl.UpdatedAt = time.Now().UTC()
	}

	// On conflict the existing row id wins, so re-stepping a slide number
	// replaces content in place rather than minting a new identity.
	var out Slide
	err := s.pool.QueryRow(ctx,
		`INSERT INTO slides (id, lecture_id, slide_number, script, question, hypothesis_use, audio_path, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (lecture_id, slide_number) DO UPDATE SET
			script=EXCLUDED.script,
			question=EXCLUDED.question,
			hypothesis_use=EXCLUDED.hypothesis_use,
			audio_path=EXCLUDED.audio_path,
			updated_at=EXCLUDED.updated_at
		 RETURNING id, lecture_id, slide_number, script, question, hypothesis_use, audio_path, updated_at`,
		sl.ID, sl.LectureID, sl.SlideNumber, sl.Script, sl.Question, sl.HypothesisUse, sl.AudioPath, sl.UpdatedAt,
	).Scan(&out.ID, &out.LectureID, &out.SlideNumber, &out.Script, &out.Question, &out.HypothesisUse, &out.AudioPath, &out.UpdatedAt)
	if err != nil {
		return Slide{}, fmt.Errorf("upsert slide: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSlide(ctx context.Context, lectureID string, slideNumber int) (Slide, error) {
	var sl Slide
	err := s.pool.QueryRow(ctx,
		`SELECT id, lecture_id, slide_number, script, question, hypothesis_use, audio_path, updated_at
		 FROM slides WHERE lecture_id=$1 AND slide_number=$2`,
		lectureID, slideNumber,
	).Scan(&sl.ID, &sl.LectureID, &sl.SlideNumber, &sl.Script, &sl.Question, &sl.HypothesisUse, &sl.AudioPath, &sl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Slide{}, ErrNotFound
	}
	if err != nil {
		return Slide{}, fmt.Errorf("get slide: %w", err)
	}
	return sl, nil
}

func (s *PostgresStore) ListSlides(ctx context.Context, lectureID string) ([]Slide, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lecture_id, slide_number, script, question, hypothesis_use, audio_path, updated_at
		 FROM slides WHERE lecture_id=$1 ORDER BY slide_number`,
		lectureID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slides: %w", err)
	}
	defer rows.Close()

	var out []Slide
	for rows.Next() {
		var sl Slide
		if err := rows.Scan(&sl.ID, &sl.LectureID, &sl.SlideNumber, &sl.Script, &sl.Question, &sl.HypothesisUse, &sl.AudioPath, &sl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan slide row: %w", err)
		}
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slide rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetSlideAudioPath(ctx context.Context, lectureID string, slideNumber int, audioPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE slides SET audio_path=$3, updated_at=now() WHERE lecture_id=$1 AND slide_number=$2`,
		lectureID, slideNumber, audioPath,
	)
	if err != nil {
		return fmt.Errorf("set slide audio path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
