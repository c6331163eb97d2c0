// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timeshare/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds all records behind a single RWMutex. Swap* methods check
// the observed value under the write lock, which gives the same CAS
// semantics the SQL stores get from conditional UPDATEs.
type Memory struct {
	mu          sync.RWMutex
	profiles    map[ledger.ProfileID]*ledger.Profile
	sessions    map[ledger.SessionID]*ledger.Session
	invitations map[ledger.InvitationID]*ledger.Invitation
	entries     map[ledger.EntryID]*ledger.BalanceEntry
}

func NewMemory() *Memory {
	return &Memory{
		profiles:    make(map[ledger.ProfileID]*ledger.Profile),
		sessions:    make(map[ledger.SessionID]*ledger.Session),
		invitations: make(map[ledger.InvitationID]*ledger.Invitation),
		entries:     make(map[ledger.EntryID]*ledger.BalanceEntry),
	}
}

// =============================================================================
// PROFILES
// =============================================================================

func (m *Memory) CreateProfile(_ context.Context, p ledger.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.ID]; ok {
		return ledger.ErrDuplicateRecord
	}
	contact := ledger.NormalizeContact(p.Email)
	for _, existing := range m.profiles {
		if ledger.NormalizeContact(existing.Email) == contact {
			return ledger.ErrDuplicateRecord
		}
	}
	cp := copyProfile(&p)
	m.profiles[p.ID] = cp
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id ledger.ProfileID) (*ledger.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ledger.ErrProfileNotFound
	}
	return copyProfile(p), nil
}

func (m *Memory) FindProfileByContact(_ context.Context, contact string) (*ledger.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contact = ledger.NormalizeContact(contact)
	for _, p := range m.profiles {
		if ledger.NormalizeContact(p.Email) == contact ||
			(p.Phone != "" && ledger.NormalizeContact(p.Phone) == contact) {
			return copyProfile(p), nil
		}
	}
	return nil, ledger.ErrProfileNotFound
}

func (m *Memory) ListProfiles(_ context.Context) ([]ledger.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		result = append(result, *copyProfile(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateProfileFields(_ context.Context, id ledger.ProfileID, update ledger.ProfileUpdate) (*ledger.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ledger.ErrProfileNotFound
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Phone != nil {
		p.Phone = *update.Phone
	}
	if update.Bio != nil {
		p.Bio = *update.Bio
	}
	if update.Avatar != nil {
		p.Avatar = *update.Avatar
	}
	if update.Skills != nil {
		p.Skills = append([]ledger.Skill(nil), (*update.Skills)...)
	}
	return copyProfile(p), nil
}

func (m *Memory) SwapBalance(_ context.Context, id ledger.ProfileID, observed, next ledger.Hours, entry ledger.BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Duplicate wins over stale: a retry that lost its read race still
	// reports already-applied, not a conflict.
	if _, ok := m.entries[entry.ID]; ok {
		return ledger.ErrDuplicateRecord
	}
	p, ok := m.profiles[id]
	if !ok {
		return ledger.ErrProfileNotFound
	}
	if !p.Balance.Equal(observed) {
		return ledger.ErrConcurrentModification
	}
	p.Balance = next
	cp := entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *Memory) SwapRating(_ context.Context, id ledger.ProfileID, observedCount int, rating decimal.Decimal, count int, entry ledger.BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ID]; ok {
		return ledger.ErrDuplicateRecord
	}
	p, ok := m.profiles[id]
	if !ok {
		return ledger.ErrProfileNotFound
	}
	if p.ReviewCount != observedCount {
		return ledger.ErrConcurrentModification
	}
	p.Rating = rating
	p.ReviewCount = count
	cp := entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.BalanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, s ledger.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ledger.ErrDuplicateRecord
	}
	cp := s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id ledger.SessionID) (*ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ledger.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSessions(_ context.Context, filter ledger.SessionFilter) ([]ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Session
	for _, s := range m.sessions {
		if filter.Participant != nil &&
			s.RequesterID != *filter.Participant && s.ProviderID != *filter.Participant {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) SwapSessionStatus(_ context.Context, id ledger.SessionID, from, to ledger.SessionStatus, outcome *ledger.SessionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	if s.Status != from {
		return ledger.ErrConcurrentModification
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	if outcome != nil {
		r := outcome.Rating
		s.Rating = &r
		s.Review = outcome.Review
	}
	return nil
}

func (m *Memory) MarkSessionSettled(_ context.Context, id ledger.SessionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	if s.SettledAt == nil {
		t := at
		s.SettledAt = &t
	}
	return nil
}

func (m *Memory) ListUnsettledSessions(_ context.Context, cutoff time.Time) ([]ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Session
	for _, s := range m.sessions {
		if !s.Status.IsTerminal() || s.SettledAt != nil {
			continue
		}
		if s.UpdatedAt.After(cutoff) {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// =============================================================================
// INVITATIONS
// =============================================================================

func (m *Memory) CreateInvitation(_ context.Context, inv ledger.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invitations[inv.ID]; ok {
		return ledger.ErrDuplicateRecord
	}
	cp := inv
	cp.Contact = ledger.NormalizeContact(inv.Contact)
	m.invitations[inv.ID] = &cp
	return nil
}

func (m *Memory) GetInvitation(_ context.Context, id ledger.InvitationID) (*ledger.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invitations[id]
	if !ok {
		return nil, ledger.ErrInvitationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) FindPendingInvitation(_ context.Context, contact string) (*ledger.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contact = ledger.NormalizeContact(contact)
	for _, inv := range m.invitations {
		if inv.Status == ledger.InvitationPending && inv.Contact == contact {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ledger.ErrInvitationNotFound
}

func (m *Memory) ListInvitations(_ context.Context, filter ledger.InvitationFilter) ([]ledger.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Invitation
	for _, inv := range m.invitations {
		if filter.InvitedBy != nil && inv.InvitedBy != *filter.InvitedBy {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		result = append(result, *inv)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) SwapInvitationStatus(_ context.Context, id ledger.InvitationID, from, to ledger.InvitationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok {
		return ledger.ErrInvitationNotFound
	}
	if inv.Status != from {
		return ledger.ErrConcurrentModification
	}
	inv.Status = to
	return nil
}

// copyProfile returns a defensive copy, including the skills slice.
func copyProfile(p *ledger.Profile) *ledger.Profile {
	cp := *p
	cp.Skills = append([]ledger.Skill(nil), p.Skills...)
	return &cp
}
