package delivery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	rows    map[Key]Row
	rollups map[string]Rollup
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[Key]Row), rollups: make(map[string]Rollup)}
}

func (r *MemoryRepo) Transition(ctx context.Context, row Row) (Row, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[row.Key]
	if !ok {
		r.rows[row.Key] = row
		return row, true, nil
	}
	if cur.Status == row.Status {
		return cur, false, nil
	}
	if !CanTransition(cur.Status, row.Status) {
		return cur, false, ErrInvalidTransition
	}
	next := merge(cur, row)
	r.rows[row.Key] = next
	return next, true, nil
}

func (r *MemoryRepo) GetByMessageID(ctx context.Context, messageID string) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.MessageID == messageID {
			return row, nil
		}
	}
	return Row{}, ErrNotFound
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, workspaceID, campaignID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Status]int, 4)
	for _, row := range r.rows {
		if row.WorkspaceID == workspaceID && row.CampaignID == campaignID {
			out[row.Status]++
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListByCampaign(ctx context.Context, workspaceID, campaignID string, from, to time.Time) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Row
	for _, row := range r.rows {
		if row.WorkspaceID != workspaceID || row.CampaignID != campaignID {
			continue
		}
		if row.UpdatedAt.Before(from) || !row.UpdatedAt.Before(to) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepID != out[j].StepID {
			return out[i].StepID < out[j].StepID
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	return out, nil
}

func (r *MemoryRepo) SaveRollup(ctx context.Context, ro Rollup) (Rollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollups[ro.CampaignID] = ro
	return ro, nil
}

func (r *MemoryRepo) GetRollup(ctx context.Context, workspaceID, campaignID string) (Rollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ro, ok := r.rollups[campaignID]
	if !ok || ro.WorkspaceID != workspaceID {
		return Rollup{}, ErrNotFound
	}
	return ro, nil
}

// Rows returns all stored rows, for assertions.
func (r *MemoryRepo) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}
