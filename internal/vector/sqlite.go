package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ruiji/internal/models"
)

// SQLiteIndex keeps a local catalog in SQLite and searches it by brute force.
type SQLiteIndex struct {
	db         *sql.DB
	path       string
	dimensions int
}

// NewSQLiteIndex opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteIndex(dbPath string, dimensions int) (*SQLiteIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteIndex{db: db, path: dbPath, dimensions: dimensions}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS points (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		vector BLOB NOT NULL,
		payload TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Type returns the index type identifier.
func (s *SQLiteIndex) Type() string {
	return string(IndexTypeSQLite)
}

// DiskUsageBytes returns the size of the database file and its WAL sidecars.
// Missing sidecars count as zero.
func (s *SQLiteIndex) DiskUsageBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Upsert inserts records or replaces the vector and payload of existing IDs in one transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (id, vector, payload) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if len(rec.Vector) != s.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", rec.ID, len(rec.Vector), s.dimensions)
		}
		payloadJSON, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID.String(), float32SliceToBytes(rec.Vector), string(payloadJSON)); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// Scroll returns the first limit records in insertion order.
func (s *SQLiteIndex) Scroll(ctx context.Context, limit int, withVectors bool) ([]models.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	records, err := s.query(ctx, `SELECT id, vector, payload FROM points ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	if !withVectors {
		for i := range records {
			records[i].Vector = nil
		}
	}
	return records, nil
}

// Recommend ranks every record, the anchor included, against the anchor's stored vector.
func (s *SQLiteIndex) Recommend(ctx context.Context, positive models.PointID, limit int) ([]*Hit, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM points WHERE id = ?`, positive.String()).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPointNotFound, positive)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor vector: %w", err)
	}
	return s.Search(ctx, bytesToFloat32Slice(blob), limit)
}

// Search returns the top-limit records by cosine similarity.
func (s *SQLiteIndex) Search(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), s.dimensions)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	records, err := s.query(ctx, `SELECT id, vector, payload FROM points ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return rank(query, records, limit), nil
}

// Count returns the number of stored points.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) query(ctx context.Context, q string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var id string
		var blob []byte
		var payloadJSON sql.NullString
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		var raw map[string]any
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &raw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload of %s: %w", id, err)
			}
		}
		records = append(records, models.Record{
			ID:      models.PointID(id),
			Vector:  bytesToFloat32Slice(blob),
			Payload: models.PayloadFromMap(raw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate points: %w", err)
	}
	return records, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
