package delivery

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"broadcast-platform/pkg/utils"
)

// PostgresRepo stores delivery_statuses and campaign_analytics.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const selectRow = `
SELECT workspace_id, campaign_id, step_id, recipient_id,
       COALESCE(message_id, ''), COALESCE(job_id, ''), status, COALESCE(error, ''), updated_at
FROM delivery_statuses
`

type scanner interface{ Scan(dest ...any) error }

func scanRow(s scanner) (Row, error) {
	var r Row
	err := s.Scan(
		&r.WorkspaceID,
		&r.CampaignID,
		&r.StepID,
		&r.RecipientID,
		&r.MessageID,
		&r.JobID,
		&r.Status,
		&r.Error,
		&r.UpdatedAt,
	)
	return r, err
}

func (r *PostgresRepo) Transition(ctx context.Context, row Row) (Row, bool, error) {
	var (
		stored  Row
		changed bool
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const ins = `
INSERT INTO delivery_statuses (
  workspace_id, campaign_id, step_id, recipient_id, message_id, job_id, status, error, updated_at
) VALUES (
  $1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,NULLIF($8,''),$9
)
ON CONFLICT (campaign_id, step_id, recipient_id) DO NOTHING
`
		res, err := tx.ExecContext(ctx, ins,
			row.WorkspaceID,
			row.CampaignID,
			row.StepID,
			row.RecipientID,
			row.MessageID,
			row.JobID,
			row.Status,
			row.Error,
			row.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			stored, changed = row, true
			return nil
		}

		// Lock the existing row so concurrent callbacks serialize.
		cur, err := scanRow(tx.QueryRowContext(ctx, selectRow+`
WHERE campaign_id = $1 AND step_id = $2 AND recipient_id = $3
FOR UPDATE`, row.CampaignID, row.StepID, row.RecipientID))
		if err != nil {
			return err
		}
		if cur.Status == row.Status {
			stored = cur
			return nil
		}
		if !CanTransition(cur.Status, row.Status) {
			stored = cur
			return ErrInvalidTransition
		}

		next := merge(cur, row)
		const upd = `
UPDATE delivery_statuses
SET status = $4, error = NULLIF($5,''), message_id = NULLIF($6,''), job_id = NULLIF($7,''), updated_at = $8
WHERE campaign_id = $1 AND step_id = $2 AND recipient_id = $3
`
		if _, err := tx.ExecContext(ctx, upd,
			next.CampaignID,
			next.StepID,
			next.RecipientID,
			next.Status,
			next.Error,
			next.MessageID,
			next.JobID,
			next.UpdatedAt,
		); err != nil {
			return err
		}
		stored, changed = next, true
		return nil
	})
	return stored, changed, err
}

func (r *PostgresRepo) GetByMessageID(ctx context.Context, messageID string) (Row, error) {
	row, err := scanRow(r.db.QueryRowContext(ctx, selectRow+`WHERE message_id = $1`, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, ErrNotFound
		}
		return Row{}, err
	}
	return row, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, workspaceID, campaignID string) (map[Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM delivery_statuses
WHERE workspace_id = $1 AND campaign_id = $2
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int, 4)
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, workspaceID, campaignID string, from, to time.Time) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, selectRow+`
WHERE workspace_id = $1 AND campaign_id = $2 AND updated_at >= $3 AND updated_at < $4
ORDER BY step_id, recipient_id`, workspaceID, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SaveRollup overwrites the snapshot; counts are never incremented in place.
func (r *PostgresRepo) SaveRollup(ctx context.Context, ro Rollup) (Rollup, error) {
	const q = `
INSERT INTO campaign_analytics (
  workspace_id, campaign_id, total_pending, total_scheduled, total_sent, total_failed, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (campaign_id)
DO UPDATE SET total_pending = EXCLUDED.total_pending,
              total_scheduled = EXCLUDED.total_scheduled,
              total_sent = EXCLUDED.total_sent,
              total_failed = EXCLUDED.total_failed,
              updated_at = EXCLUDED.updated_at
RETURNING workspace_id, campaign_id, total_pending, total_scheduled, total_sent, total_failed, updated_at
`
	var out Rollup
	if err := r.db.QueryRowContext(ctx, q,
		ro.WorkspaceID,
		ro.CampaignID,
		ro.TotalPending,
		ro.TotalScheduled,
		ro.TotalSent,
		ro.TotalFailed,
		ro.UpdatedAt,
	).Scan(
		&out.WorkspaceID,
		&out.CampaignID,
		&out.TotalPending,
		&out.TotalScheduled,
		&out.TotalSent,
		&out.TotalFailed,
		&out.UpdatedAt,
	); err != nil {
		return Rollup{}, err
	}
	return out, nil
}

func (r *PostgresRepo) GetRollup(ctx context.Context, workspaceID, campaignID string) (Rollup, error) {
	const q = `
SELECT workspace_id, campaign_id, total_pending, total_scheduled, total_sent, total_failed, updated_at
FROM campaign_analytics
WHERE workspace_id = $1 AND campaign_id = $2
`
	var out Rollup
	if err := r.db.QueryRowContext(ctx, q, workspaceID, campaignID).Scan(
		&out.WorkspaceID,
		&out.CampaignID,
		&out.TotalPending,
		&out.TotalScheduled,
		&out.TotalSent,
		&out.TotalFailed,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rollup{}, ErrNotFound
		}
		return Rollup{}, err
	}
	return out, nil
}
