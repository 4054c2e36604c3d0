package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ferry/api/model"
	"ferry/api/trail"
)

func (db *DB) InsertDeployment(ctx context.Context, d *model.Deployment) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO deployments (id, domain, source_ip, source_instance_path, target_ip, install_path, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Domain, d.SourceIP, d.SourceInstancePath, d.TargetIP, d.InstallPath, d.Status, d.StartedAt,
	)
	return err
}

func (db *DB) FinishDeployment(ctx context.Context, id string, status model.DeployStatus, message, archiveKey string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE deployments SET status = $1, message = $2, archive_key = $3, finished_at = now() WHERE id = $4`,
		status, message, archiveKey, id,
	)
	return err
}

// Record persists one trail entry. It satisfies trail.Sink.
func (db *DB) Record(ctx context.Context, e trail.Entry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO deployment_logs (deployment_id, seq, step, line, logged_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.DeploymentID, e.Seq, e.Step, e.Line, e.Timestamp,
	)
	return err
}

type DeploymentFilter struct {
	Domain string
	Status string
	Limit  int
	Offset int
}

func (db *DB) ListDeployments(ctx context.Context, f DeploymentFilter) ([]model.Deployment, int, error) {
	where := ""
	args := []interface{}{}
	argN := 1

	if f.Domain != "" {
		where += fmt.Sprintf(" AND domain = $%d", argN)
		args = append(args, f.Domain)
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM deployments WHERE 1=1" + where
	if err := db.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	querySQL := fmt.Sprintf(
		`SELECT id, domain, source_ip, source_instance_path, target_ip, install_path, status, message, archive_key, started_at, finished_at
		 FROM deployments WHERE 1=1%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, argN, argN+1,
	)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deployments := []model.Deployment{}
	for rows.Next() {
		var d model.Deployment
		if err := scanDeployment(rows, &d); err != nil {
			return nil, 0, err
		}
		deployments = append(deployments, d)
	}
	return deployments, total, rows.Err()
}

// GetDeployment returns the record with its log lines.
func (db *DB) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var d model.Deployment
	row := db.pool.QueryRow(ctx,
		`SELECT id, domain, source_ip, source_instance_path, target_ip, install_path, status, message, archive_key, started_at, finished_at
		 FROM deployments WHERE id = $1`, id)
	if err := scanDeployment(row, &d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entries, err := db.DeploymentLog(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Logs = make([]string, len(entries))
	for i, e := range entries {
		d.Logs[i] = e.Line
	}
	return &d, nil
}

func (db *DB) DeploymentLog(ctx context.Context, id string) ([]trail.Entry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT l.deployment_id, d.domain, l.seq, l.step, l.line, l.logged_at
		 FROM deployment_logs l JOIN deployments d ON d.id = l.deployment_id
		 WHERE l.deployment_id = $1 ORDER BY l.seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []trail.Entry
	for rows.Next() {
		var e trail.Entry
		if err := rows.Scan(&e.DeploymentID, &e.Domain, &e.Seq, &e.Step, &e.Line, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecoverInFlightDeployments fails runs interrupted by a restart.
func (db *DB) RecoverInFlightDeployments(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE deployments
		 SET status = 'failed', message = 'ferry restarted during deployment', finished_at = now()
		 WHERE status = 'running'`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type DailyStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

func (db *DB) GetDailyStats(ctx context.Context, since time.Time) (*DailyStats, error) {
	s := &DailyStats{}
	err := db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'running')
		FROM deployments
		WHERE started_at >= $1
	`, since).Scan(&s.Total, &s.Succeeded, &s.Failed, &s.Running)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanDeployment(row pgx.Row, d *model.Deployment) error {
	return row.Scan(&d.ID, &d.Domain, &d.SourceIP, &d.SourceInstancePath, &d.TargetIP, &d.InstallPath,
		&d.Status, &d.Message, &d.ArchiveKey, &d.StartedAt, &d.FinishedAt)
}
