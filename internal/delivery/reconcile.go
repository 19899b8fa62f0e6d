package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"

	"broadcast-platform/pkg/logger"
	"broadcast-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// DirtySet tracks campaigns whose snapshot is behind their delivery rows.
type DirtySet interface {
	Mark(ctx context.Context, workspaceID, campaignID string) error
	Drain(ctx context.Context, n int) ([]CampaignRef, error)
}

type CampaignRef struct {
	WorkspaceID string
	CampaignID  string
}

func (c CampaignRef) member() string { return c.WorkspaceID + "/" + c.CampaignID }

func parseRef(m string) (CampaignRef, bool) {
	ws, id, ok := strings.Cut(m, "/")
	if !ok || ws == "" || id == "" {
		return CampaignRef{}, false
	}
	return CampaignRef{WorkspaceID: ws, CampaignID: id}, true
}

const DefaultDirtyKey = "delivery:rollup:dirty"

type RedisDirtySet struct {
	Client redis.Cmdable
	Key    string
}

func (s RedisDirtySet) key() string {
	if s.Key == "" {
		return DefaultDirtyKey
	}
	return s.Key
}

func (s RedisDirtySet) Mark(ctx context.Context, workspaceID, campaignID string) error {
	return utils.SetAddMember(ctx, s.Client, s.key(), CampaignRef{workspaceID, campaignID}.member())
}

func (s RedisDirtySet) Drain(ctx context.Context, n int) ([]CampaignRef, error) {
	members, err := utils.SetPopMembers(ctx, s.Client, s.key(), n)
	if err != nil {
		return nil, err
	}
	out := make([]CampaignRef, 0, len(members))
	for _, m := range members {
		if ref, ok := parseRef(m); ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

type MemoryDirtySet struct {
	mu  sync.Mutex
	set map[CampaignRef]struct{}
}

func NewMemoryDirtySet() *MemoryDirtySet {
	return &MemoryDirtySet{set: make(map[CampaignRef]struct{})}
}

func (s *MemoryDirtySet) Mark(ctx context.Context, workspaceID, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[CampaignRef{workspaceID, campaignID}] = struct{}{}
	return nil
}

func (s *MemoryDirtySet) Drain(ctx context.Context, n int) ([]CampaignRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CampaignRef
	for ref := range s.set {
		if n > 0 && len(out) >= n {
			break
		}
		out = append(out, ref)
		delete(s.set, ref)
	}
	return out, nil
}

// Reconciler recomputes snapshots for campaigns touched by callbacks.
type Reconciler struct {
	rec   *Recorder
	dirty DirtySet
	batch int
}

func NewReconciler(rec *Recorder, dirty DirtySet, batch int) *Reconciler {
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{rec: rec, dirty: dirty, batch: batch}
}

// RunOnce drains one batch of dirty campaigns. Campaigns whose rollup fails
// are marked dirty again.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	refs, err := r.dirty.Drain(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	log := logger.From(ctx)
	var errs []error
	done := 0
	for _, ref := range refs {
		if _, err := r.rec.Rollup(ctx, ref.WorkspaceID, ref.CampaignID); err != nil {
			log.Error("rollup failed", "workspace_id", ref.WorkspaceID, "campaign_id", ref.CampaignID, "err", err)
			errs = append(errs, err)
			_ = r.dirty.Mark(ctx, ref.WorkspaceID, ref.CampaignID)
			continue
		}
		done++
	}
	if done > 0 {
		log.Debug("rollups reconciled", "count", done)
	}
	return done, errors.Join(errs...)
}
