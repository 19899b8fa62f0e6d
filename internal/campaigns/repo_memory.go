package campaigns

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{campaigns: make(map[string]Campaign)} }

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.ID]; ok {
		return fmt.Errorf("campaigns: duplicate id %s", c.ID)
	}
	seen := make(map[int]struct{}, len(c.Steps))
	for _, s := range c.Steps {
		if _, dup := seen[s.Order]; dup {
			return invalid("steps", fmt.Sprintf("duplicate step order %d", s.Order))
		}
		seen[s.Order] = struct{}{}
	}
	r.campaigns[c.ID] = clone(c)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, workspaceID, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.WorkspaceID != workspaceID {
		return Campaign{}, ErrNotFound
	}
	out := clone(c)
	slices.SortFunc(out.Steps, func(a, b Step) int { return a.Order - b.Order })
	return out, nil
}

func (r *MemoryRepo) MarkDispatched(ctx context.Context, workspaceID, id string, status Status, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if c.Status != StatusDraft {
		return ErrInvalidTransition
	}
	c.Status = status
	c.SentAt = &sentAt
	c.UpdatedAt = sentAt
	r.campaigns[id] = c
	return nil
}

// Put stores c as is, for seeding tests.
func (r *MemoryRepo) Put(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = clone(c)
}

func clone(c Campaign) Campaign {
	c.Steps = slices.Clone(c.Steps)
	return c
}
