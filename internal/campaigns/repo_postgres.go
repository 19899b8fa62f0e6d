package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/pkg/utils"
)

// PostgresRepo stores campaigns and campaign_steps.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	criteria, err := json.Marshal(c.AudienceCriteria)
	if err != nil {
		return fmt.Errorf("campaigns: encode audience_criteria: %w", err)
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO campaigns (
  id, workspace_id, created_by, name, type, status, channel, subject, content,
  scheduled_at, sent_at, audience_criteria, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10,$11,$12::jsonb,$13,$14
)
`
		if _, err := tx.ExecContext(ctx, q,
			c.ID,
			c.WorkspaceID,
			c.CreatedBy,
			c.Name,
			c.Type,
			c.Status,
			c.Channel,
			c.Subject,
			c.Content,
			c.ScheduledAt,
			c.SentAt,
			string(criteria),
			c.CreatedAt,
			c.UpdatedAt,
		); err != nil {
			return err
		}

		const qs = `
INSERT INTO campaign_steps (
  id, campaign_id, workspace_id, step_order, channel, subject, content,
  wait_days, wait_until_start, wait_until_end
) VALUES (
  $1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,NULLIF($9,''),NULLIF($10,'')
)
`
		for _, s := range c.Steps {
			if _, err := tx.ExecContext(ctx, qs,
				s.ID,
				c.ID,
				c.WorkspaceID,
				s.Order,
				s.Channel,
				s.Subject,
				s.Content,
				s.WaitDays,
				s.WaitUntilStart,
				s.WaitUntilEnd,
			); err != nil {
				if utils.IsUniqueViolation(err) {
					return invalid("steps", fmt.Sprintf("duplicate step order %d", s.Order))
				}
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) Get(ctx context.Context, workspaceID, id string) (Campaign, error) {
	const q = `
SELECT id, workspace_id, created_by, name, type, status,
       COALESCE(channel, ''), COALESCE(subject, ''), COALESCE(content, ''),
       scheduled_at, sent_at, audience_criteria, created_at, updated_at
FROM campaigns
WHERE workspace_id = $1 AND id = $2
`
	var (
		c         Campaign
		scheduled sql.NullTime
		sent      sql.NullTime
		criteria  []byte
	)
	if err := r.db.QueryRowContext(ctx, q, workspaceID, id).Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.CreatedBy,
		&c.Name,
		&c.Type,
		&c.Status,
		&c.Channel,
		&c.Subject,
		&c.Content,
		&scheduled,
		&sent,
		&criteria,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	if scheduled.Valid {
		t := scheduled.Time
		c.ScheduledAt = &t
	}
	if sent.Valid {
		t := sent.Time
		c.SentAt = &t
	}
	if len(criteria) > 0 {
		var f audience.Filter
		if err := json.Unmarshal(criteria, &f); err != nil {
			return Campaign{}, fmt.Errorf("campaigns: decode audience_criteria: %w", err)
		}
		c.AudienceCriteria = f
	}

	steps, err := r.listSteps(ctx, workspaceID, id)
	if err != nil {
		return Campaign{}, err
	}
	c.Steps = steps
	return c, nil
}

func (r *PostgresRepo) listSteps(ctx context.Context, workspaceID, campaignID string) ([]Step, error) {
	const q = `
SELECT id, step_order, COALESCE(channel, ''), COALESCE(subject, ''), content,
       wait_days, COALESCE(wait_until_start, ''), COALESCE(wait_until_end, '')
FROM campaign_steps
WHERE workspace_id = $1 AND campaign_id = $2
ORDER BY step_order
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(
			&s.ID,
			&s.Order,
			&s.Channel,
			&s.Subject,
			&s.Content,
			&s.WaitDays,
			&s.WaitUntilStart,
			&s.WaitUntilEnd,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkDispatched(ctx context.Context, workspaceID, id string, status Status, sentAt time.Time) error {
	const q = `
UPDATE campaigns
SET status = $3, sent_at = $4, updated_at = $4
WHERE workspace_id = $1 AND id = $2 AND status = 'draft'
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, id, status, sentAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE workspace_id = $1 AND id = $2)`,
		workspaceID, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}
