/*
Package gate implements the invitation gate: the rule that only an
existing profile or a pending invitation lets a contact into the
community, and the invitation lifecycle around it.

ACCESS FLOW:

  CheckAccess(contact)
      +-- profile exists          -> existing (full profile)
      +-- pending invitation      -> invited  (may proceed to sign-up)
      +-- neither                 -> denied

  CheckAccess is a pure read. A store failure surfaces as an error and is
  never conflated with denied - one is transient, the other is a business
  decision.

SIGN-UP RACE:
  The UI checks access first, but the invitation could be cancelled
  between the check and the sign-up. SignUp therefore re-verifies inside
  the operation: it accepts the invitation with a pending -> accepted CAS
  *before* creating the profile. Losing that race fails the sign-up
  instead of leaving an orphaned profile behind a cancelled invitation.

SEE ALSO:
  - ledger/store.go: the invitation CAS primitive
*/
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timeshare/ledger-engine/ledger"
)

// DefaultInitialGrant is the hour balance seeded into every new profile.
const DefaultInitialGrant = 40

// =============================================================================
// GATE
// =============================================================================

// Gate validates community access and manages invitations.
type Gate struct {
	Store        ledger.Store
	InitialGrant ledger.Hours

	// Now is a clock hook for tests.
	Now func() time.Time
}

// NewGate creates a gate with the default initial grant.
func NewGate(store ledger.Store) *Gate {
	return &Gate{
		Store:        store,
		InitialGrant: ledger.NewHoursFromInt(DefaultInitialGrant),
		Now:          time.Now,
	}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// =============================================================================
// ACCESS CHECK
// =============================================================================

type AccessStatus string

const (
	AccessExisting AccessStatus = "existing"
	AccessInvited  AccessStatus = "invited"
	AccessDenied   AccessStatus = "denied"
)

// AccessResult is the outcome of CheckAccess. Profile is set for
// existing, Invitation for invited.
type AccessResult struct {
	Status     AccessStatus
	Profile    *ledger.Profile
	Invitation *ledger.Invitation
}

// CheckAccess resolves what a contact may do: sign in (existing profile),
// register (pending invitation), or nothing (denied). No side effects.
func (g *Gate) CheckAccess(ctx context.Context, contact string) (*AccessResult, error) {
	contact = ledger.NormalizeContact(contact)
	if contact == "" {
		return nil, fmt.Errorf("%w: empty contact", ledger.ErrInvalidRequest)
	}

	profile, err := g.Store.FindProfileByContact(ctx, contact)
	if err == nil {
		return &AccessResult{Status: AccessExisting, Profile: profile}, nil
	}
	if !errors.Is(err, ledger.ErrProfileNotFound) {
		return nil, err
	}

	inv, err := g.Store.FindPendingInvitation(ctx, contact)
	if err == nil {
		return &AccessResult{Status: AccessInvited, Invitation: inv}, nil
	}
	if !errors.Is(err, ledger.ErrInvitationNotFound) {
		return nil, err
	}

	return &AccessResult{Status: AccessDenied}, nil
}

// =============================================================================
// SIGN-UP
// =============================================================================

// SignUpInput carries the profile data collected at registration.
type SignUpInput struct {
	Name  string
	Phone string
	Bio   string
}

// SignUp creates a profile for an invited contact, seeded with the
// initial grant and a generated avatar, and settles the invitation.
//
// The pending invitation is consumed first (CAS pending -> accepted); a
// concurrently cancelled invitation fails the sign-up with ErrDenied and
// no profile is created. If profile creation itself fails afterwards, the
// invitation is reverted to pending so the contact can retry.
func (g *Gate) SignUp(ctx context.Context, contact string, in SignUpInput) (*ledger.Profile, error) {
	contact = ledger.NormalizeContact(contact)
	if contact == "" {
		return nil, fmt.Errorf("%w: empty contact", ledger.ErrInvalidRequest)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ledger.ErrInvalidRequest)
	}

	if _, err := g.Store.FindProfileByContact(ctx, contact); err == nil {
		return nil, fmt.Errorf("%w: %s is already a member", ledger.ErrDenied, contact)
	} else if !errors.Is(err, ledger.ErrProfileNotFound) {
		return nil, err
	}

	inv, err := g.Store.FindPendingInvitation(ctx, contact)
	if err != nil {
		if errors.Is(err, ledger.ErrInvitationNotFound) {
			return nil, fmt.Errorf("%w: no pending invitation for %s", ledger.ErrDenied, contact)
		}
		return nil, err
	}

	err = g.Store.SwapInvitationStatus(ctx, inv.ID, ledger.InvitationPending, ledger.InvitationAccepted)
	if err != nil {
		if errors.Is(err, ledger.ErrConcurrentModification) {
			return nil, fmt.Errorf("%w: invitation for %s is no longer pending", ledger.ErrDenied, contact)
		}
		return nil, err
	}

	id := ledger.ProfileID(ledger.NewID("usr"))
	profile := ledger.Profile{
		ID:        id,
		Name:      in.Name,
		Email:     contact,
		Phone:     in.Phone,
		Bio:       in.Bio,
		Avatar:    fmt.Sprintf("https://picsum.photos/seed/%s/200", id),
		Balance:   g.InitialGrant,
		CreatedAt: g.now(),
	}

	if err := g.Store.CreateProfile(ctx, profile); err != nil {
		// Give the invitation back so the contact can retry.
		_ = g.Store.SwapInvitationStatus(ctx, inv.ID, ledger.InvitationAccepted, ledger.InvitationPending)
		return nil, err
	}

	return &profile, nil
}

// =============================================================================
// INVITATIONS
// =============================================================================

// Invite creates a pending invitation for a contact. Inviting a contact
// that already has a pending invitation returns the existing one instead
// of inserting a duplicate: SignUp consumes exactly one invitation, and a
// second pending record would stay stranded forever.
func (g *Gate) Invite(ctx context.Context, inviterID ledger.ProfileID, contact string) (*ledger.Invitation, error) {
	contact = ledger.NormalizeContact(contact)
	if contact == "" {
		return nil, fmt.Errorf("%w: empty contact", ledger.ErrInvalidRequest)
	}

	if _, err := g.Store.GetProfile(ctx, inviterID); err != nil {
		return nil, err
	}

	existing, err := g.Store.FindPendingInvitation(ctx, contact)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ledger.ErrInvitationNotFound) {
		return nil, err
	}

	inv := ledger.Invitation{
		ID:        ledger.InvitationID(ledger.NewID("inv")),
		Contact:   contact,
		InvitedBy: inviterID,
		Status:    ledger.InvitationPending,
		CreatedAt: g.now(),
	}
	if err := g.Store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CancelInvite cancels a pending invitation. Only the original inviter or
// an admin may cancel; an already-settled invitation is an
// ErrInvalidTransition, not a silent no-op.
func (g *Gate) CancelInvite(ctx context.Context, id ledger.InvitationID, requesterID ledger.ProfileID, isAdmin bool) error {
	inv, err := g.Store.GetInvitation(ctx, id)
	if err != nil {
		return err
	}
	if inv.InvitedBy != requesterID && !isAdmin {
		return fmt.Errorf("%w: only the inviter or an admin can cancel invitation %s", ledger.ErrDenied, id)
	}
	if inv.Status != ledger.InvitationPending {
		return fmt.Errorf("%w: invitation %s is already %s", ledger.ErrInvalidTransition, id, inv.Status)
	}

	err = g.Store.SwapInvitationStatus(ctx, id, ledger.InvitationPending, ledger.InvitationCancelled)
	if errors.Is(err, ledger.ErrConcurrentModification) {
		// Lost the race to a concurrent sign-up or cancel.
		return fmt.Errorf("%w: invitation %s is no longer pending", ledger.ErrInvalidTransition, id)
	}
	return err
}
