package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"broadcast-platform/internal/delivery"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations must
// filter by workspace.
type Repository interface {
	ListByCampaign(ctx context.Context, workspaceID, campaignID string, from, to time.Time) ([]delivery.Row, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CampaignReport(ctx context.Context, req CampaignReportRequest) (CampaignReport, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" {
		return CampaignReport{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignReport{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignReport{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByCampaign(ctx, req.WorkspaceID, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignReport{}, err
	}

	out := CampaignReport{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID, Range: req.Range}
	steps := map[string]*Counts{}
	for _, r := range rows {
		sc, ok := steps[r.StepID]
		if !ok {
			sc = &Counts{}
			steps[r.StepID] = sc
		}
		tally(&out.Totals, r.Status)
		tally(sc, r.Status)
		if r.Status == delivery.StatusFailed && r.Error != "" {
			if out.FailureReasons == nil {
				out.FailureReasons = map[string]int{}
			}
			out.FailureReasons[r.Error]++
		}
	}

	finish(&out.Totals)
	out.Steps = make([]StepReport, 0, len(steps))
	for id, c := range steps {
		finish(c)
		out.Steps = append(out.Steps, StepReport{StepID: id, Counts: *c})
	}
	sort.Slice(out.Steps, func(i, j int) bool { return out.Steps[i].StepID < out.Steps[j].StepID })
	return out, nil
}

func tally(c *Counts, s delivery.Status) {
	c.Total++
	switch s {
	case delivery.StatusPending:
		c.Pending++
	case delivery.StatusScheduled:
		c.Scheduled++
	case delivery.StatusSent:
		c.Sent++
	case delivery.StatusFailed:
		c.Failed++
	}
}

func finish(c *Counts) {
	if c.Total > 0 {
		c.DeliveryRate = float64(c.Sent) / float64(c.Total)
		c.FailureRate = float64(c.Failed) / float64(c.Total)
	}
}
