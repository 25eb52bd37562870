package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"eval-orchestrator/internal/domain"
)

// EvaluationRepository archives evaluation results append-only.
//
// Expected schema:
//
//	CREATE TABLE evaluation_results (
//	    id UUID PRIMARY KEY,
//	    query TEXT NOT NULL,
//	    response TEXT NOT NULL,
//	    provider TEXT NOT NULL,
//	    model TEXT NOT NULL,
//	    answer_relevancy DOUBLE PRECISION NOT NULL,
//	    faithfulness DOUBLE PRECISION NOT NULL,
//	    contextual_precision DOUBLE PRECISION NOT NULL,
//	    contextual_recall DOUBLE PRECISION NOT NULL,
//	    overall DOUBLE PRECISION NOT NULL,
//	    success BOOLEAN NOT NULL,
//	    cost DOUBLE PRECISION NOT NULL,
//	    latency_ms BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type EvaluationRepository struct {
	db *pgxpool.Pool
}

// NewEvaluationRepository constructs the archive over a connection pool.
func NewEvaluationRepository(db *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// InsertResult appends one evaluation record. Rows are never updated or
// deleted.
func (r *EvaluationRepository) InsertResult(ctx context.Context, result *domain.EvaluationResult, success bool) error {
	query := `
		INSERT INTO evaluation_results (
			id, query, response, provider, model,
			answer_relevancy, faithfulness, contextual_precision, contextual_recall, overall,
			success, cost, latency_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		result.ID,
		result.Query,
		result.Response,
		result.Provider,
		result.Model,
		result.Metrics.AnswerRelevancy,
		result.Metrics.Faithfulness,
		result.Metrics.ContextualPrecision,
		result.Metrics.ContextualRecall,
		result.Metrics.Overall,
		success,
		result.Cost,
		result.Latency.Milliseconds(),
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation result: %w", err)
	}
	return nil
}

// RecentResults returns the newest archived records, newest first.
func (r *EvaluationRepository) RecentResults(ctx context.Context, limit int) ([]domain.EvaluationResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, query, response, provider, model,
		       answer_relevancy, faithfulness, contextual_precision, contextual_recall, overall,
		       cost, latency_ms, created_at
		FROM evaluation_results
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation results: %w", err)
	}
	defer rows.Close()

	var results []domain.EvaluationResult
	for rows.Next() {
		var res domain.EvaluationResult
		var latencyMs int64
		if err := rows.Scan(
			&res.ID, &res.Query, &res.Response, &res.Provider, &res.Model,
			&res.Metrics.AnswerRelevancy, &res.Metrics.Faithfulness,
			&res.Metrics.ContextualPrecision, &res.Metrics.ContextualRecall,
			&res.Metrics.Overall,
			&res.Cost, &latencyMs, &res.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation result: %w", err)
		}
		res.Latency = millisecondsToDuration(latencyMs)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluation results: %w", err)
	}
	return results, nil
}
