package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// TransmitterRepo implements ports.TransmitterRepository with pgx.
type TransmitterRepo struct {
	db *DB
}

// NewTransmitterRepo creates a new TransmitterRepo.
func NewTransmitterRepo(db *DB) *TransmitterRepo {
	return &TransmitterRepo{db: db}
}

const upsertTransmitter = `
	INSERT INTO transmitters (id, run_id, location, local_x, local_y, height_m, ground_z,
		model, type, power_dbm, tilt, azimuth, frequency_hz, active_users)
	VALUES ($1, NULLIF($2, ''), ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE
	SET run_id = EXCLUDED.run_id, location = EXCLUDED.location,
	    local_x = EXCLUDED.local_x, local_y = EXCLUDED.local_y,
	    height_m = EXCLUDED.height_m, ground_z = EXCLUDED.ground_z,
	    model = EXCLUDED.model, type = EXCLUDED.type,
	    power_dbm = EXCLUDED.power_dbm, tilt = EXCLUDED.tilt, azimuth = EXCLUDED.azimuth,
	    frequency_hz = EXCLUDED.frequency_hz, active_users = EXCLUDED.active_users
`

const transmitterColumns = `id, COALESCE(run_id, ''),
	ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lon,
	local_x, local_y, height_m, ground_z, model, type,
	power_dbm, tilt, azimuth, frequency_hz, active_users, created_at`

// UpsertBatch inserts or updates many transmitters using pgx.Batch.
func (r *TransmitterRepo) UpsertBatch(ctx context.Context, txs []domain.Transmitter) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(upsertTransmitter,
			t.ID, t.RunID, t.Location.Lon, t.Location.Lat, t.Local.X, t.Local.Y,
			t.Height, t.GroundZ, t.Model, t.Type, t.PowerDBm, t.Tilt, t.Azimuth,
			t.Frequency, t.ActiveUsers)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range txs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// ListByRun returns the transmitters provisioned by one run.
func (r *TransmitterRepo) ListByRun(ctx context.Context, runID string) ([]domain.Transmitter, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+transmitterColumns+` FROM transmitters
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	return collectTransmitters(rows)
}

// List returns all transmitters, most recent first.
func (r *TransmitterRepo) List(ctx context.Context, limit, offset int) ([]domain.Transmitter, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+transmitterColumns+` FROM transmitters
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransmitters(rows)
}

func collectTransmitters(rows pgx.Rows) ([]domain.Transmitter, error) {
	defer rows.Close()
	var txs []domain.Transmitter
	for rows.Next() {
		var t domain.Transmitter
		if err := rows.Scan(
			&t.ID, &t.RunID, &t.Location.Lat, &t.Location.Lon,
			&t.Local.X, &t.Local.Y, &t.Height, &t.GroundZ, &t.Model, &t.Type,
			&t.PowerDBm, &t.Tilt, &t.Azimuth, &t.Frequency, &t.ActiveUsers, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
