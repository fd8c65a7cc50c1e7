package database

import (
	"context"
	"fmt"
)

// Repository persists model exchanges.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new exchange record.
func (r *Repository) Create(ctx context.Context, ex *Exchange) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO exchanges (
			id, image_id, kind, question, answer, model, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ex.ID,
		ex.ImageID,
		ex.Kind,
		ex.Question,
		ex.Answer,
		ex.Model,
		ex.LatencyMS,
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	return nil
}

// RecentByImage returns the exchanges recorded against one image,
// newest first.
func (r *Repository) RecentByImage(ctx context.Context, imageID string, limit int) ([]*Exchange, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, image_id, kind, question, answer, model, latency_ms, created_at
		FROM exchanges
		WHERE image_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, imageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		ex := &Exchange{}
		if err := rows.Scan(
			&ex.ID,
			&ex.ImageID,
			&ex.Kind,
			&ex.Question,
			&ex.Answer,
			&ex.Model,
			&ex.LatencyMS,
			&ex.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// GetStats returns aggregate service statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = $1),
			COUNT(*) FILTER (WHERE kind = $2),
			COALESCE(AVG(latency_ms), 0)::BIGINT
		FROM exchanges
	`, KindDescribe, KindAsk).Scan(
		&stats.ImagesDescribed,
		&stats.QuestionsAnswered,
		&stats.AvgLatencyMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
