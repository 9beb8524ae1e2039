// Optional Postgres archive of complete snapshots, keyed by fingerprint.
// A nil archive is valid everywhere and makes every call a no-op, which is
// how tests run without a backing DB.

package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/config"
	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

type Archive struct {
	db *sql.DB
}

// OpenArchive connects to Postgres and ensures the snapshot table exists.
func OpenArchive(cfg *config.Config) (*Archive, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.URL,
		cfg.DB.Port,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	a := &Archive{db: db}
	if err := a.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_snapshots (
			fingerprint TEXT PRIMARY KEY,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// SaveSnapshot upserts one complete snapshot.
func (a *Archive) SaveSnapshot(ctx context.Context, snap *models.PositionSnapshot) error {
	if a == nil || a.db == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO analysis_snapshots (fingerprint, payload, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO UPDATE
		SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		snap.FEN, payload, snap.CreatedAt)
	return err
}

// LoadSnapshot fetches an archived snapshot; (nil, nil) on a miss.
func (a *Archive) LoadSnapshot(ctx context.Context, fen string) (*models.PositionSnapshot, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	var payload []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT payload FROM analysis_snapshots WHERE fingerprint = $1`, fen).
		Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.PositionSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CandidateMoves makes the archive usable as a database move source: moves
// we evaluated for this position before are worth evaluating again.
func (a *Archive) CandidateMoves(ctx context.Context, fen string) ([]string, error) {
	snap, err := a.LoadSnapshot(ctx, fen)
	if err != nil || snap == nil {
		return nil, err
	}
	return snap.Moves, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
