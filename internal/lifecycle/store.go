package lifecycle

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"hkwarrant/internal/core"
)

// Checkpoint is the durable snapshot of the day lifecycle manager's
// state, persisted so a restart mid-clear resumes rather than silently
// re-entering ACTIVE with stale assumptions.
type Checkpoint struct {
	State         core.LifecycleState `json:"state"`
	CurrentDayKey string               `json:"current_day_key"`
	UpdatedAtMs   int64                `json:"updated_at_ms"`
}

// SQLiteStore persists lifecycle checkpoints to a single-row SQLite
// table, guarding the payload with a sha256 checksum against partial
// writes surviving a crash mid-commit.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("lifecycle store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("lifecycle store: ping: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("lifecycle store: wal mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS lifecycle_checkpoint (
		id INTEGER PRIMARY KEY,
		data BLOB NOT NULL,
		checksum BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("lifecycle store: create table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save persists cp as the single checkpoint row, validating the JSON
// round-trips before committing (spec §4.8 durability).
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("lifecycle store: begin: %w", err)
	}
	defer tx.Rollback()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("lifecycle store: marshal: %w", err)
	}
	var roundTrip Checkpoint
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		return fmt.Errorf("lifecycle store: round-trip validate: %w", err)
	}

	checksum := sha256.Sum256(data)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO lifecycle_checkpoint (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)`,
		data, checksum[:], cp.UpdatedAtMs,
	); err != nil {
		return fmt.Errorf("lifecycle store: insert: %w", err)
	}
	return tx.Commit()
}

// Load returns the persisted checkpoint, or (nil, nil) if none has ever
// been saved. A checksum mismatch is reported as an error rather than
// silently returning a corrupted snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	var data, checksum []byte
	row := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM lifecycle_checkpoint WHERE id = 1`)
	if err := row.Scan(&data, &checksum); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lifecycle store: select: %w", err)
	}

	want := sha256.Sum256(data)
	if len(checksum) != len(want) || string(checksum) != string(want[:]) {
		return nil, fmt.Errorf("lifecycle store: checksum mismatch, checkpoint may be corrupt")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("lifecycle store: unmarshal: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
