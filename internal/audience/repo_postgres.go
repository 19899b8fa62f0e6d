package audience

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresRepo reads contacts, contact_opt_outs and workspace_numbers.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// buildContactQuery only interpolates column names from filterColumns; values
// are always bound parameters.
func buildContactQuery(workspaceID string, conds []Condition) (string, []any) {
	var b strings.Builder
	b.WriteString(`
SELECT c.id, c.workspace_id, c.name, c.first_name, c.phone, c.email, c.custom_fields
FROM contacts c
WHERE c.workspace_id = $1`)
	args := []any{workspaceID}

	for _, cond := range conds {
		switch {
		case cond.Column == "tags":
			args = append(args, cond.Value)
			fmt.Fprintf(&b, "\n  AND $%d = ANY(c.tags)", len(args))
		case cond.Column == "custom_fields":
			args = append(args, cond.CustomKey, cond.Value)
			fmt.Fprintf(&b, "\n  AND c.custom_fields ->> $%d = $%d", len(args)-1, len(args))
		default:
			if _, ok := filterColumns[cond.Column]; !ok {
				continue
			}
			args = append(args, cond.Value)
			fmt.Fprintf(&b, "\n  AND c.%s = $%d", cond.Column, len(args))
		}
	}
	b.WriteString(`
  AND NOT EXISTS (
    SELECT 1 FROM contact_opt_outs o
    WHERE o.workspace_id = c.workspace_id AND o.phone = c.phone
  )
ORDER BY c.created_at, c.id`)
	return b.String(), args
}

func (r *PostgresRepo) FindContacts(ctx context.Context, workspaceID string, conds []Condition) ([]Recipient, error) {
	q, args := buildContactQuery(workspaceID, conds)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var (
			rec                     Recipient
			firstName, phone, email sql.NullString
			custom                  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.Name, &firstName, &phone, &email, &custom); err != nil {
			return nil, err
		}
		rec.FirstName = firstName.String
		rec.Phone = phone.String
		rec.Email = email.String
		if len(custom) > 0 {
			if err := json.Unmarshal(custom, &rec.Fields); err != nil {
				return nil, fmt.Errorf("audience: contact %s custom_fields: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AddOptOut(ctx context.Context, workspaceID, phone, channel string) error {
	const q = `
INSERT INTO contact_opt_outs (workspace_id, phone, channel, created_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (workspace_id, phone, channel) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, workspaceID, phone, channel)
	return err
}

func (r *PostgresRepo) WorkspaceForNumber(ctx context.Context, number string) (string, error) {
	const q = `SELECT workspace_id FROM workspace_numbers WHERE phone_number = $1`
	var ws string
	if err := r.db.QueryRowContext(ctx, q, number).Scan(&ws); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNumberNotFound
		}
		return "", err
	}
	return ws, nil
}
