// Package audience resolves a campaign's filter into the recipients it targets.
package audience

import (
	"context"
	"strings"
)

type Repository interface {
	// FindContacts returns contacts matching every condition, excluding
	// opted-out numbers. conds is never empty.
	FindContacts(ctx context.Context, workspaceID string, conds []Condition) ([]Recipient, error)
	AddOptOut(ctx context.Context, workspaceID, phone, channel string) error
	WorkspaceForNumber(ctx context.Context, number string) (string, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Resolve returns the deduplicated recipients matched by filter. A filter
// with no recognised condition matches nobody.
func (s *Service) Resolve(ctx context.Context, workspaceID string, filter Filter) (Audience, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return Audience{}, ErrWorkspaceRequired
	}
	conds := filter.Conditions()
	if len(conds) == 0 {
		return Audience{Recipients: []Recipient{}}, nil
	}

	found, err := s.repo.FindContacts(ctx, workspaceID, conds)
	if err != nil {
		return Audience{}, err
	}

	seen := make(map[string]struct{}, len(found))
	out := make([]Recipient, 0, len(found))
	for _, r := range found {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if r.FirstName == "" {
			r.FirstName = firstName(r.Name)
		}
		out = append(out, r)
	}
	return Audience{Recipients: out, Count: len(out)}, nil
}

// Preview resolves filter and keeps at most limit recipients, with the full count.
func (s *Service) Preview(ctx context.Context, workspaceID string, filter Filter, limit int) (Audience, error) {
	a, err := s.Resolve(ctx, workspaceID, filter)
	if err != nil {
		return Audience{}, err
	}
	if limit > 0 && len(a.Recipients) > limit {
		a.Recipients = a.Recipients[:limit]
	}
	return a, nil
}

// OptOut excludes phone from future audiences of the workspace.
func (s *Service) OptOut(ctx context.Context, workspaceID, phone, channel string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return ErrWorkspaceRequired
	}
	if channel == "" {
		channel = OptOutChannelSMS
	}
	return s.repo.AddOptOut(ctx, workspaceID, strings.TrimSpace(phone), channel)
}

// WorkspaceForNumber finds the workspace that owns a sending number.
func (s *Service) WorkspaceForNumber(ctx context.Context, number string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", ErrNumberNotFound
	}
	return s.repo.WorkspaceForNumber(ctx, number)
}

func firstName(name string) string {
	f := strings.Fields(name)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
