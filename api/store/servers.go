package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ferry/api/model"
)

const serverColumns = `id, name, username, ip, port, rsa_key, password, created_at`

// scanServer reads a row and opens its sealed credentials.
func (db *DB) scanServer(row pgx.Row) (*model.Server, error) {
	var s model.Server
	var key, pw string
	if err := row.Scan(&s.ID, &s.Name, &s.Username, &s.IP, &s.Port, &key, &pw, &s.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.RSAKey, err = db.open(key); err != nil {
		return nil, fmt.Errorf("open key for server %s: %w", s.ID, err)
	}
	if s.Password, err = db.open(pw); err != nil {
		return nil, fmt.Errorf("open password for server %s: %w", s.ID, err)
	}
	s.HasKey = s.RSAKey != ""
	return &s, nil
}

func (db *DB) InsertServer(ctx context.Context, s *model.Server) error {
	key, err := db.seal(s.RSAKey)
	if err != nil {
		return err
	}
	pw, err := db.seal(s.Password)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO servers (id, name, username, ip, port, rsa_key, password, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Name, s.Username, s.IP, s.Port, key, pw, s.CreatedAt,
	)
	return err
}

func (db *DB) ListServers(ctx context.Context) ([]model.Server, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Server{}
	for rows.Next() {
		s, err := db.scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (db *DB) GetServer(ctx context.Context, id string) (*model.Server, error) {
	s, err := db.scanServer(db.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// UpdateServer replaces connection details. Empty credentials keep the
// stored ones.
func (db *DB) UpdateServer(ctx context.Context, id string, in model.ServerInput) (*model.Server, error) {
	key, err := db.seal(in.RSAKey)
	if err != nil {
		return nil, err
	}
	pw, err := db.seal(in.Password)
	if err != nil {
		return nil, err
	}
	port := in.Port
	if port == 0 {
		port = 22
	}
	s, err := db.scanServer(db.pool.QueryRow(ctx,
		`UPDATE servers SET name = $1, username = $2, ip = $3, port = $4,
		   rsa_key = CASE WHEN $5::text = '' THEN rsa_key ELSE $5::text END,
		   password = CASE WHEN $6::text = '' THEN password ELSE $6::text END
		 WHERE id = $7
		 RETURNING `+serverColumns,
		in.Name, in.Username, in.IP, port, key, pw, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (db *DB) DeleteServer(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
