package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/impactwatch/impactwatch/common/database"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// SQLiteStore implements Store on a single SQLite file for single-node
// deployments. Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db       *sql.DB
	timeouts database.Timeouts
}

// NewSQLiteStore opens the database at path. The schema must already be
// migrated (see Migrate).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; readers go through the same connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCanonicalSignal(ctx context.Context, sig *model.CanonicalSignal) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	doc, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode canonical signal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canonical_signals
			(id, watch_id, title, url, published_at, last_member_at, corroboration_count, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			published_at = excluded.published_at,
			last_member_at = excluded.last_member_at,
			corroboration_count = excluded.corroboration_count,
			updated_at = excluded.updated_at,
			document = excluded.document
	`,
		sig.ID, sig.WatchID, sig.Title, sig.URL, nanos(sig.PublishedAt), nanos(sig.LatestMemberAt()),
		sig.CorroborationCount, nanos(sig.CreatedAt), nanos(sig.UpdatedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to save canonical signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCanonicalSignal(ctx context.Context, id string) (*model.CanonicalSignal, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM canonical_signals WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("canonical signal %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get canonical signal: %w", err)
	}
	return decodeSignal([]byte(doc))
}

func (s *SQLiteStore) ListCanonicalSignalsSince(ctx context.Context, since time.Time) ([]*model.CanonicalSignal, error) {
	ctx, cancel := s.timeouts.BulkContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM canonical_signals
		WHERE last_member_at >= ?
		ORDER BY created_at, id
	`, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical signals: %w", err)
	}
	defer rows.Close()

	out := make([]*model.CanonicalSignal, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan canonical signal: %w", err)
		}
		sig, err := decodeSignal([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountRecentSignals(ctx context.Context, watchID string, since time.Time) (int, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canonical_signals WHERE watch_id = ? AND published_at >= ?`,
		watchID, nanos(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) SaveImpactCard(ctx context.Context, card *model.ImpactCard) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode impact card: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO impact_cards
			(id, watch_id, title, status, risk_level, risk_score, confidence, needs_review, degraded, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			risk_level = excluded.risk_level,
			risk_score = excluded.risk_score,
			confidence = excluded.confidence,
			needs_review = excluded.needs_review,
			degraded = excluded.degraded,
			updated_at = excluded.updated_at,
			document = excluded.document
	`,
		card.ID, card.WatchID, card.Title, string(card.Status), string(card.RiskLevel),
		card.RiskScore, card.Confidence, card.NeedsReview, card.Degraded,
		nanos(card.CreatedAt), nanos(card.UpdatedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to save impact card: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO card_signals (card_id, signal_id, watch_id, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(card_id, signal_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare card signal link: %w", err)
	}
	defer stmt.Close()

	for _, id := range card.CanonicalSignalIDs {
		if _, err := stmt.ExecContext(ctx, card.ID, id, card.WatchID, nanos(card.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to link card signals: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit impact card: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetImpactCard(ctx context.Context, id string) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("impact card %s", id),
		`SELECT document FROM impact_cards WHERE id = ?`, id)
}

func (s *SQLiteStore) LoadOpenCard(ctx context.Context, watchID string, since time.Time) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("open card for watch %s", watchID), `
		SELECT document FROM impact_cards
		WHERE watch_id = ? AND status = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, watchID, string(model.CardOpen), nanos(since))
}

func (s *SQLiteStore) FindCardBySignal(ctx context.Context, watchID, signalID string) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("card with signal %s", signalID), `
		SELECT c.document FROM impact_cards c
		JOIN card_signals cs ON cs.card_id = c.id
		WHERE cs.watch_id = ? AND cs.signal_id = ?
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT 1
	`, watchID, signalID)
}

func (s *SQLiteStore) queryCard(ctx context.Context, what, query string, args ...any) (*model.ImpactCard, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return decodeCard([]byte(doc))
}

func (s *SQLiteStore) ListImpactCards(ctx context.Context, filter CardFilter) ([]*model.ImpactCard, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var where []string
	var args []any
	if filter.WatchID != "" {
		where = append(where, "watch_id = ?")
		args = append(args, filter.WatchID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := "SELECT document FROM impact_cards"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list impact cards: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ImpactCard, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan impact card: %w", err)
		}
		card, err := decodeCard([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// SetTimeouts replaces the per-call timeouts. Call before first use.
func (s *SQLiteStore) SetTimeouts(t database.Timeouts) {
	s.timeouts = t
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
