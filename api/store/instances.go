package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ferry/api/model"
)

const instanceColumns = `id, name, url, interval_seconds, status, color, status_code, status_text, status_history, checked_at, created_at`

func scanInstance(row pgx.Row) (*model.Instance, error) {
	var inst model.Instance
	var history []byte
	err := row.Scan(&inst.ID, &inst.Name, &inst.URL, &inst.Interval, &inst.Status, &inst.Color,
		&inst.StatusCode, &inst.StatusText, &history, &inst.Date, &inst.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &inst.StatusHistory); err != nil {
		return nil, fmt.Errorf("decode status history: %w", err)
	}
	if inst.StatusHistory == nil {
		inst.StatusHistory = []model.StatusEntry{}
	}
	return &inst, nil
}

func (db *DB) InsertInstance(ctx context.Context, inst *model.Instance) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO instances (id, name, url, interval_seconds, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		inst.ID, inst.Name, inst.URL, inst.Interval, inst.Status, inst.CreatedAt,
	)
	return err
}

func (db *DB) ListInstances(ctx context.Context) ([]model.Instance, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (db *DB) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	inst, err := scanInstance(db.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

func (db *DB) UpdateInstance(ctx context.Context, id string, in model.InstanceInput) (*model.Instance, error) {
	inst, err := scanInstance(db.pool.QueryRow(ctx,
		`UPDATE instances SET name = $1, url = $2, interval_seconds = $3 WHERE id = $4
		 RETURNING `+instanceColumns,
		in.Name, in.URL, in.Interval, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

func (db *DB) DeleteInstance(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordStatus applies a probe result and trims the history, holding a row
// lock so concurrent probes of one instance never lose an entry.
func (db *DB) RecordStatus(ctx context.Context, id string, e model.StatusEntry) (*model.Instance, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	inst, err := scanInstance(tx.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inst.Record(e)
	history, err := json.Marshal(inst.StatusHistory)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE instances SET status = $1, color = $2, status_code = $3, status_text = $4, status_history = $5, checked_at = $6
		 WHERE id = $7`,
		inst.Status, inst.Color, inst.StatusCode, inst.StatusText, history, inst.Date, id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}
