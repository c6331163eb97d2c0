/*
Package ledger provides the core time-banking engine.

PURPOSE:
  This package contains the domain types and rules for an hour-denominated
  skill exchange: members hold a decimal hour balance, spend hours by
  requesting sessions with other members, earn hours (plus a rating-scaled
  bonus) by providing sessions, and carry a cumulative-average rating.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours: a decimal hour quantity (never float)
  - Profile: a community member with balance, skills, and rating
  - Session: one skill exchange with its own status lifecycle
  - Invitation: a standing membership offer for a contact

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all balances and ratings
  2. Type safety: distinct ID types for profiles, sessions, invitations
  3. Snapshots: a session carries the skill name as of request time;
     later edits to the provider's skill list never rewrite history
  4. Store-agnostic: the logical model is camelCase Go; snake_case
     exists only inside store adapters

SEE ALSO:
  - engine.go: balance mutation and the session state machine
  - store.go: persistence interface (compare-and-swap primitives)
  - bonus.go: completion bonus policies
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - Decimal hour quantity
// =============================================================================

// Hours is a quantity of hours. It wraps decimal.Decimal so balance
// arithmetic is exact; conservation checks must not drift.
type Hours struct {
	Value decimal.Decimal
}

func NewHours(value float64) Hours {
	return Hours{Value: decimal.NewFromFloat(value)}
}

func NewHoursFromInt(value int) Hours {
	return Hours{Value: decimal.NewFromInt(int64(value))}
}

// ParseHours parses a decimal string ("2.5"). Invalid input yields zero.
func ParseHours(s string) Hours {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Hours{Value: decimal.Zero}
	}
	return Hours{Value: d}
}

func ZeroHours() Hours { return Hours{Value: decimal.Zero} }

func (h Hours) Add(o Hours) Hours         { return Hours{Value: h.Value.Add(o.Value)} }
func (h Hours) Sub(o Hours) Hours         { return Hours{Value: h.Value.Sub(o.Value)} }
func (h Hours) Neg() Hours                { return Hours{Value: h.Value.Neg()} }
func (h Hours) IsZero() bool              { return h.Value.IsZero() }
func (h Hours) IsNegative() bool          { return h.Value.IsNegative() }
func (h Hours) IsPositive() bool          { return h.Value.IsPositive() }
func (h Hours) Equal(o Hours) bool        { return h.Value.Equal(o.Value) }
func (h Hours) LessThan(o Hours) bool     { return h.Value.LessThan(o.Value) }
func (h Hours) GreaterThan(o Hours) bool  { return h.Value.GreaterThan(o.Value) }
func (h Hours) String() string            { return h.Value.String() }
func (h Hours) Float64() float64          { f, _ := h.Value.Float64(); return f }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProfileID string
type SessionID string
type InvitationID string
type SkillID string

// NormalizeContact canonicalizes an email or phone for case-insensitive
// matching. All store lookups by contact go through this.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// =============================================================================
// PROFILE - A community member
// =============================================================================

// Skill is an offerable capability on a profile.
type Skill struct {
	ID          SkillID
	Name        string
	Category    string
	Description string
}

// Profile is a member account. Balance and the rating aggregate are owned
// by the engine: profile edits can never touch them.
type Profile struct {
	ID      ProfileID
	Name    string
	Email   string
	Phone   string
	Bio     string
	Avatar  string
	Skills  []Skill
	Balance Hours

	// Cumulative-average rating aggregate. Rating is in [0,5];
	// ReviewCount is the number of samples behind it.
	Rating      decimal.Decimal
	ReviewCount int

	IsAdmin   bool
	CreatedAt time.Time
}

// SkillByID returns the skill with the given id, if the profile offers it.
func (p *Profile) SkillByID(id SkillID) (Skill, bool) {
	for _, s := range p.Skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

// ProfileUpdate is a partial profile edit. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name   *string
	Phone  *string
	Bio    *string
	Avatar *string
	Skills *[]Skill
}

// =============================================================================
// SESSION - One skill exchange
// =============================================================================

type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionAccepted  SessionStatus = "ACCEPTED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is a single exchange: the requester spends Duration hours of
// balance, the provider earns them (plus bonus) on completion.
//
// SkillName is a snapshot taken at request time. It is intentionally
// denormalized: deleting or renaming the skill on the provider's profile
// must not alter historical or in-flight sessions.
type Session struct {
	ID          SessionID
	RequesterID ProfileID
	ProviderID  ProfileID
	SkillID     SkillID
	SkillName   string
	Duration    Hours
	Status      SessionStatus
	CreatedAt   time.Time

	// UpdatedAt tracks the last status transition. The recovery sweep
	// measures its grace period from here, not from CreatedAt: an old
	// session completed a moment ago is not yet sweep-eligible.
	UpdatedAt   time.Time
	ScheduledAt *time.Time

	// Set only on completion.
	Rating *decimal.Decimal
	Review string

	// SettledAt marks that the terminal balance effects (refund on
	// cancel, credit + rating aggregate on completion) have been fully
	// applied. A terminal session without it is picked up by the
	// recovery sweep.
	SettledAt *time.Time
}

// SessionOutcome carries the completion fields written together with the
// ACCEPTED -> COMPLETED status swap.
type SessionOutcome struct {
	Rating decimal.Decimal
	Review string
}

// =============================================================================
// BALANCE ENTRY - Idempotency record for session money movements
// =============================================================================

type EntryID string

type EntryKind string

const (
	// EntryDebit is the requester's payment at request time.
	EntryDebit EntryKind = "DEBIT"
	// EntryRefund returns the debit to the requester on cancellation.
	EntryRefund EntryKind = "REFUND"
	// EntryCredit pays the provider (duration + bonus) on completion.
	EntryCredit EntryKind = "CREDIT"
	// EntryRating folds the completion rating into the provider aggregate.
	EntryRating EntryKind = "RATING"
)

// BalanceEntry records one applied effect of a session. Its ID is
// derived from the session and kind, and the store writes it atomically
// with the swap it guards, so replaying a settlement can never apply
// the same effect twice. It doubles as an audit trail: a session with
// no DEBIT entry was never funded and settles without moving hours.
type BalanceEntry struct {
	ID        EntryID
	SessionID SessionID
	ProfileID ProfileID
	Kind      EntryKind
	// Amount is the hours moved, or the rating value for RATING entries.
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// SessionEntryID derives the idempotency key for one effect of a session.
func SessionEntryID(id SessionID, kind EntryKind) EntryID {
	return EntryID(string(id) + ":" + string(kind))
}

// =============================================================================
// INVITATION - A standing membership offer
// =============================================================================

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Invitation lets one contact join the community. Created by an existing
// member; accepted when the contact signs up; cancellable by the inviter
// or an admin while still pending. Immutable once settled.
type Invitation struct {
	ID        InvitationID
	Contact   string // normalized email or phone
	InvitedBy ProfileID
	Status    InvitationStatus
	CreatedAt time.Time
}

// =============================================================================
// FILTERS - Read-model queries
// =============================================================================

// SessionFilter narrows ListSessions. A nil field matches everything.
// Participant matches either side of the exchange.
type SessionFilter struct {
	Participant *ProfileID
	Status      *SessionStatus
}

// InvitationFilter narrows ListInvitations.
type InvitationFilter struct {
	InvitedBy *ProfileID
	Status    *InvitationStatus
}
