package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/impactwatch/impactwatch/common/database"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// PostgresStore implements Store using PostgreSQL. Each row keeps the full
// JSON document next to the columns used for lookups.
type PostgresStore struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

// NewPostgresStore connects and pings the database. maxConns <= 0 keeps the pgx default.
func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveCanonicalSignal(ctx context.Context, sig *model.CanonicalSignal) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	doc, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode canonical signal: %w", err)
	}
	query := `
		INSERT INTO canonical_signals
			(id, watch_id, title, url, published_at, last_member_at, corroboration_count, created_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			published_at = EXCLUDED.published_at,
			last_member_at = EXCLUDED.last_member_at,
			corroboration_count = EXCLUDED.corroboration_count,
			updated_at = EXCLUDED.updated_at,
			document = EXCLUDED.document
	`
	_, err = s.pool.Exec(ctx, query,
		sig.ID, sig.WatchID, sig.Title, sig.URL, sig.PublishedAt, sig.LatestMemberAt(),
		sig.CorroborationCount, sig.CreatedAt, sig.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("failed to save canonical signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCanonicalSignal(ctx context.Context, id string) (*model.CanonicalSignal, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM canonical_signals WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("canonical signal %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get canonical signal: %w", err)
	}
	return decodeSignal(doc)
}

func (s *PostgresStore) ListCanonicalSignalsSince(ctx context.Context, since time.Time) ([]*model.CanonicalSignal, error) {
	ctx, cancel := s.timeouts.BulkContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT document FROM canonical_signals
		WHERE last_member_at >= $1
		ORDER BY created_at, id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical signals: %w", err)
	}
	defer rows.Close()

	out := make([]*model.CanonicalSignal, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan canonical signal: %w", err)
		}
		sig, err := decodeSignal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountRecentSignals(ctx context.Context, watchID string, since time.Time) (int, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM canonical_signals WHERE watch_id = $1 AND published_at >= $2`,
		watchID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SaveImpactCard(ctx context.Context, card *model.ImpactCard) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode impact card: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO impact_cards
			(id, watch_id, title, status, risk_level, risk_score, confidence, needs_review, degraded, created_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			risk_level = EXCLUDED.risk_level,
			risk_score = EXCLUDED.risk_score,
			confidence = EXCLUDED.confidence,
			needs_review = EXCLUDED.needs_review,
			degraded = EXCLUDED.degraded,
			updated_at = EXCLUDED.updated_at,
			document = EXCLUDED.document
	`,
		card.ID, card.WatchID, card.Title, string(card.Status), string(card.RiskLevel),
		card.RiskScore, card.Confidence, card.NeedsReview, card.Degraded,
		card.CreatedAt, card.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("failed to save impact card: %w", err)
	}

	batch := &pgx.Batch{}
	for _, id := range card.CanonicalSignalIDs {
		batch.Queue(`
			INSERT INTO card_signals (card_id, signal_id, watch_id, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (card_id, signal_id) DO NOTHING
		`, card.ID, id, card.WatchID, card.UpdatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to link card signals: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit impact card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImpactCard(ctx context.Context, id string) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("impact card %s", id),
		`SELECT document FROM impact_cards WHERE id = $1`, id)
}

func (s *PostgresStore) LoadOpenCard(ctx context.Context, watchID string, since time.Time) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("open card for watch %s", watchID), `
		SELECT document FROM impact_cards
		WHERE watch_id = $1 AND status = $2 AND created_at >= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, watchID, string(model.CardOpen), since)
}

func (s *PostgresStore) FindCardBySignal(ctx context.Context, watchID, signalID string) (*model.ImpactCard, error) {
	return s.queryCard(ctx, fmt.Sprintf("card with signal %s", signalID), `
		SELECT c.document FROM impact_cards c
		JOIN card_signals cs ON cs.card_id = c.id
		WHERE cs.watch_id = $1 AND cs.signal_id = $2
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT 1
	`, watchID, signalID)
}

func (s *PostgresStore) queryCard(ctx context.Context, what, query string, args ...any) (*model.ImpactCard, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	var doc []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return decodeCard(doc)
}

func (s *PostgresStore) ListImpactCards(ctx context.Context, filter CardFilter) ([]*model.ImpactCard, error) {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()

	whereClause := "WHERE 1=1"
	args := []any{}
	argPos := 1

	if filter.WatchID != "" {
		whereClause += fmt.Sprintf(" AND watch_id = $%d", argPos)
		args = append(args, filter.WatchID)
		argPos++
	}
	if filter.Status != "" {
		whereClause += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}
	args = append(args, filter.limit())

	query := fmt.Sprintf(`
		SELECT document FROM impact_cards
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, whereClause, argPos)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list impact cards: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ImpactCard, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan impact card: %w", err)
		}
		card, err := decodeCard(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// SetTimeouts replaces the per-call timeouts. Call before first use.
func (s *PostgresStore) SetTimeouts(t database.Timeouts) {
	s.timeouts = t
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeSignal(doc []byte) (*model.CanonicalSignal, error) {
	var sig model.CanonicalSignal
	if err := json.Unmarshal(doc, &sig); err != nil {
		return nil, fmt.Errorf("decode canonical signal: %w", err)
	}
	return &sig, nil
}

func decodeCard(doc []byte) (*model.ImpactCard, error) {
	var card model.ImpactCard
	if err := json.Unmarshal(doc, &card); err != nil {
		return nil, fmt.Errorf("decode impact card: %w", err)
	}
	// Documents written before actions carried a status are open.
	for i := range card.Actions {
		if card.Actions[i].Status == "" {
			card.Actions[i].Status = model.ActionOpen
		}
	}
	return &card, nil
}
