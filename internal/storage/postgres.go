package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps face encodings (pgvector), content hashes and the
// validation audit trail. Per-user locks are session advisory locks, so
// they hold across replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables this store needs if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Locking ---

func (s *PostgresStore) LockUser(ctx context.Context, userID string) (func(), error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, userID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	return func() {
		// the caller's ctx may already be cancelled; the lock must still go
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, userID); err != nil {
			// a session lock dies with its connection
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

// --- Face encodings ---

func (s *PostgresStore) LoadFaces(ctx context.Context, userID string) (models.UserFaceRecord, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT label, embedding FROM face_encodings WHERE user_id = $1 ORDER BY label, position`, userID)
	if err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}
	defer rows.Close()

	rec := models.UserFaceRecord{}
	for rows.Next() {
		var label string
		var vec pgvector.Vector
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, fmt.Errorf("scan face encoding: %w", err)
		}
		rec[label] = append(rec[label], models.NewFaceEncoding(vec.Slice()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}
	return rec, nil
}

// SaveFaces replaces the encodings under label in one transaction.
func (s *PostgresStore) SaveFaces(ctx context.Context, userID, label string, encs []models.FaceEncoding) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM face_encodings WHERE user_id = $1 AND label = $2`, userID, label); err != nil {
			return fmt.Errorf("clear label: %w", err)
		}
		batch := &pgx.Batch{}
		for i, enc := range encs {
			batch.Queue(`INSERT INTO face_encodings (user_id, label, position, embedding) VALUES ($1, $2, $3, $4)`,
				userID, label, i, pgvector.NewVector(enc))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert encodings: %w", err)
		}
		return nil
	})
}

// FindSimilarFace returns the label of the closest stored encoding within
// threshold (Euclidean), ignoring excludeLabel.
func (s *PostgresStore) FindSimilarFace(ctx context.Context, userID, excludeLabel string, encs []models.FaceEncoding, threshold float64) (string, bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", false, err
	}
	for _, enc := range encs {
		var label string
		err := s.pool.QueryRow(ctx,
			`SELECT label FROM face_encodings
			 WHERE user_id = $1 AND label <> $2 AND embedding <-> $3 < $4
			 ORDER BY embedding <-> $3
			 LIMIT 1`,
			userID, excludeLabel, pgvector.NewVector(enc), threshold,
		).Scan(&label)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("search faces: %w", err)
		}
		return label, true, nil
	}
	return "", false, nil
}

// --- Content hashes ---

func (s *PostgresStore) LoadHashes(ctx context.Context, userID string) (models.UserHashRecord, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT label, hash FROM image_hashes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}
	defer rows.Close()

	rec := models.UserHashRecord{}
	for rows.Next() {
		var label, hash string
		if err := rows.Scan(&label, &hash); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		rec[label] = hash
	}
	return rec, rows.Err()
}

func (s *PostgresStore) SaveHash(ctx context.Context, userID, label, hash string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO image_hashes (user_id, label, hash) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, label) DO UPDATE SET hash = EXCLUDED.hash, created_at = now()`,
		userID, label, hash)
	if err != nil {
		return fmt.Errorf("save hash: %w", err)
	}
	return nil
}

// DeleteUser removes face encodings and hashes. Audit events are kept.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM face_encodings WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete faces: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM image_hashes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete hashes: %w", err)
		}
		return nil
	})
}

// --- Validation events ---

func (s *PostgresStore) CreateValidationEvent(ctx context.Context, ev *models.ValidationEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO validation_events (id, user_id, label, mode, accepted, kind, reason, duplicate_of, face_count, adjusted, stored_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UserID, ev.Label, string(ev.Mode), ev.Accepted, string(ev.Kind), ev.Reason,
		ev.DuplicateOf, ev.FaceCount, ev.Adjusted, ev.StoredPath, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create validation event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListValidationEvents(ctx context.Context, userID string, limit int) ([]models.ValidationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, label, mode, accepted, kind, reason, duplicate_of, face_count, adjusted, stored_path, created_at
		 FROM validation_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list validation events: %w", err)
	}
	defer rows.Close()

	var events []models.ValidationEvent
	for rows.Next() {
		var ev models.ValidationEvent
		var mode, kind string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Label, &mode, &ev.Accepted, &kind, &ev.Reason,
			&ev.DuplicateOf, &ev.FaceCount, &ev.Adjusted, &ev.StoredPath, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan validation event: %w", err)
		}
		ev.Mode = models.ValidationMode(mode)
		ev.Kind = models.RejectKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}
