package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingArchive stores generated embeddings for reuse by the ingestion
// pipeline. Rows are keyed by the text's content hash so repeated embeds of
// identical text upsert rather than duplicate.
//
// Expected schema (dimension must match the configured embedding size):
//
//	CREATE TABLE embedding_archive (
//	    content_hash TEXT PRIMARY KEY,
//	    provider TEXT NOT NULL,
//	    model TEXT NOT NULL,
//	    embedding VECTOR(768) NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type EmbeddingArchive struct {
	db *pgxpool.Pool
}

// NewEmbeddingArchive constructs the archive over a connection pool.
func NewEmbeddingArchive(db *pgxpool.Pool) *EmbeddingArchive {
	return &EmbeddingArchive{db: db}
}

// InsertEmbeddings stores one row per (text, vector) pair. Slices must be
// the same length.
func (a *EmbeddingArchive) InsertEmbeddings(ctx context.Context, provider, model string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("texts/vectors length mismatch: %d vs %d", len(texts), len(vectors))
	}

	query := `
		INSERT INTO embedding_archive (content_hash, provider, model, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_hash) DO UPDATE
		SET provider = EXCLUDED.provider,
		    model = EXCLUDED.model,
		    embedding = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at
	`
	now := time.Now()
	for i, text := range texts {
		if _, err := a.db.Exec(ctx, query,
			contentHash(text),
			provider,
			model,
			pgvector.NewVector(vectors[i]),
			now,
		); err != nil {
			return fmt.Errorf("failed to archive embedding %d: %w", i, err)
		}
	}
	return nil
}

// LookupEmbedding returns the archived vector for a text, if present.
func (a *EmbeddingArchive) LookupEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := a.db.QueryRow(ctx,
		`SELECT embedding FROM embedding_archive WHERE content_hash = $1`,
		contentHash(text),
	).Scan(&vec)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to lookup embedding: %w", err)
	}
	return vec.Slice(), true, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
