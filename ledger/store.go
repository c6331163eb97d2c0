/*
store.go - Persistence interface for profiles, sessions, and invitations

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  assumes read-your-writes consistency per connection and NO cross-record
  transactions beyond one primitive: the conditional single-record update
  (compare-and-swap on an observed value), which for balance and rating
  writes also records a keyed balance entry in the same atomic step.

CAS CONTRACT:
  Every Swap* method writes only if the record's current value matches
  the observed value the caller read earlier. On mismatch it returns
  ErrConcurrentModification and changes nothing. This is what makes the
  engine safe to expose as independent request handlers across processes:
  no in-process locks, no lost updates on contended profiles.

  - SwapBalance:          conditioned on the observed balance
  - SwapRating:           conditioned on the observed review count
  - SwapSessionStatus:    conditioned on the observed status
  - SwapInvitationStatus: conditioned on the observed status

IDEMPOTENCY ENTRIES:
  SwapBalance and SwapRating take a BalanceEntry whose id is derived from
  the session and effect kind. The entry insert and the swap commit or
  fail together; an existing entry id means the effect was already
  applied and the call returns ErrDuplicateRecord without touching the
  record. The duplicate check takes precedence over the stale-observed
  check, so a settlement retry that lost its read race still resolves as
  already-applied rather than as a conflict. This is what lets the
  recovery sweep re-run a partially applied settlement without
  double-crediting anyone.

NAMING AT THE BOUNDARY:
  Stored columns are snake_case (balance_hours, duration_hours, ...);
  this interface and everything above it speak the camelCase logical
  model. The mapping lives inside each adapter and nowhere else.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite:           embedded SQLite
  - store/postgres:         production PostgreSQL (pgx)
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProfileStore persists member profiles.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p Profile) error

	GetProfile(ctx context.Context, id ProfileID) (*Profile, error)

	// FindProfileByContact matches email or phone, case-insensitively.
	// Returns ErrProfileNotFound when no profile matches.
	FindProfileByContact(ctx context.Context, contact string) (*Profile, error)

	ListProfiles(ctx context.Context) ([]Profile, error)

	// UpdateProfileFields applies a partial edit and returns the updated
	// profile. Balance and the rating aggregate are not reachable here.
	UpdateProfileFields(ctx context.Context, id ProfileID, update ProfileUpdate) (*Profile, error)

	// SwapBalance sets the balance to next iff it still equals observed,
	// recording entry in the same atomic step. Returns ErrDuplicateRecord
	// without writing when entry.ID already exists.
	SwapBalance(ctx context.Context, id ProfileID, observed, next Hours, entry BalanceEntry) error

	// SwapRating sets the rating aggregate iff the review count still
	// equals observedCount, recording entry in the same atomic step.
	// Returns ErrDuplicateRecord without writing when entry.ID exists.
	SwapRating(ctx context.Context, id ProfileID, observedCount int, rating decimal.Decimal, count int, entry BalanceEntry) error

	// GetEntry returns the balance entry with the given id, or
	// ErrEntryNotFound.
	GetEntry(ctx context.Context, id EntryID) (*BalanceEntry, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error

	GetSession(ctx context.Context, id SessionID) (*Session, error)

	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// SwapSessionStatus moves the session from -> to iff its status still
	// equals from, stamping UpdatedAt with the transition time. For
	// COMPLETED, outcome carries rating and review and is written in the
	// same conditional update.
	SwapSessionStatus(ctx context.Context, id SessionID, from, to SessionStatus, outcome *SessionOutcome) error

	// MarkSessionSettled records that terminal balance effects have been
	// applied. Idempotent: marking an already-settled session is a no-op.
	MarkSessionSettled(ctx context.Context, id SessionID, at time.Time) error

	// ListUnsettledSessions returns terminal sessions whose last status
	// transition happened at or before the cutoff and whose balance
	// effects have not been marked settled. Feeds the recovery sweep; the
	// grace window is measured from the transition, so a session that
	// just completed is not yet eligible even if it was created long ago.
	ListUnsettledSessions(ctx context.Context, cutoff time.Time) ([]Session, error)
}

// InvitationStore persists invitations.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv Invitation) error

	GetInvitation(ctx context.Context, id InvitationID) (*Invitation, error)

	// FindPendingInvitation returns the pending invitation for a contact,
	// or ErrInvitationNotFound.
	FindPendingInvitation(ctx context.Context, contact string) (*Invitation, error)

	ListInvitations(ctx context.Context, filter InvitationFilter) ([]Invitation, error)

	// SwapInvitationStatus moves the invitation from -> to iff its status
	// still equals from.
	SwapInvitationStatus(ctx context.Context, id InvitationID, from, to InvitationStatus) error
}

// Store is the full persistence surface the engine and gate depend on.
type Store interface {
	ProfileStore
	SessionStore
	InvitationStore
}
