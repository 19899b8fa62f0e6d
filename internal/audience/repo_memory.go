package audience

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	contacts []Contact
	optOuts  map[string]map[string]struct{} // workspace -> phone
	numbers  map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		optOuts: make(map[string]map[string]struct{}),
		numbers: make(map[string]string),
	}
}

func (r *MemoryRepo) AddContact(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts = append(r.contacts, c)
}

func (r *MemoryRepo) AssignNumber(number, workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers[number] = workspaceID
}

func (r *MemoryRepo) FindContacts(ctx context.Context, workspaceID string, conds []Condition) ([]Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Recipient
	for _, c := range r.contacts {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if _, opted := r.optOuts[workspaceID][c.Phone]; opted && c.Phone != "" {
			continue
		}
		if !matchesAll(c, conds) {
			continue
		}
		out = append(out, c.Recipient)
	}
	return out, nil
}

func matchesAll(c Contact, conds []Condition) bool {
	for _, cond := range conds {
		var v string
		switch cond.Column {
		case "tags":
			if !slices.Contains(c.Tags, cond.Value) {
				return false
			}
			continue
		case "custom_fields":
			v = c.Fields[cond.CustomKey]
		case "name":
			v = c.Name
		case "email":
			v = c.Email
		case "phone":
			v = c.Phone
		case "lead_source":
			v = c.LeadSource
		case "market":
			v = c.Market
		case "product":
			v = c.Product
		case "lead_status":
			v = c.LeadStatus
		case "conversation_status":
			v = c.ConversationStatus
		default:
			return false
		}
		if v != cond.Value {
			return false
		}
	}
	return true
}

func (r *MemoryRepo) AddOptOut(ctx context.Context, workspaceID, phone, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.optOuts[workspaceID] == nil {
		r.optOuts[workspaceID] = make(map[string]struct{})
	}
	r.optOuts[workspaceID][phone] = struct{}{}
	return nil
}

func (r *MemoryRepo) WorkspaceForNumber(ctx context.Context, number string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.numbers[number]
	if !ok {
		return "", ErrNumberNotFound
	}
	return ws, nil
}
