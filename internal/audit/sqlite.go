// Package audit хранит журнал предсказаний в SQLite
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"vitals-risk-service/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    request_id TEXT,
    variant VARCHAR(20) NOT NULL,
    feature_schema VARCHAR(40) NOT NULL,
    features TEXT NOT NULL,
    label VARCHAR(40) NOT NULL,
    latency_ms REAL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
`

// Store журнал предсказаний
type Store struct {
	db *sql.DB
}

// Open открывает (и при необходимости создает) базу
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record сохраняет запись; пустые ID и время заполняются
func (s *Store) Record(ctx context.Context, rec models.PredictionRecord) (models.PredictionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	featuresJSON, err := json.Marshal(rec.Features)
	if err != nil {
		return rec, fmt.Errorf("marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, request_id, variant, feature_schema, features, label, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Variant, rec.Schema, string(featuresJSON), rec.Label, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("insert prediction: %w", err)
	}
	return rec, nil
}

// Recent возвращает последние записи, новые первыми
func (s *Store) Recent(ctx context.Context, limit int) ([]models.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, variant, feature_schema, features, label, latency_ms, created_at
		 FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	records := make([]models.PredictionRecord, 0, limit)
	for rows.Next() {
		var (
			rec          models.PredictionRecord
			requestID    sql.NullString
			featuresJSON string
		)
		if err := rows.Scan(&rec.ID, &requestID, &rec.Variant, &rec.Schema, &featuresJSON,
			&rec.Label, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		rec.RequestID = requestID.String
		if err := json.Unmarshal([]byte(featuresJSON), &rec.Features); err != nil {
			return nil, fmt.Errorf("decode features of %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count возвращает число записей
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return n, nil
}

// Close закрывает базу
func (s *Store) Close() error {
	return s.db.Close()
}
