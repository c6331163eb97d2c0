/*
engine.go - Balance mutation and the session state machine

PURPOSE:
  The Engine owns every rule that moves hours between members:

    (none)   -> PENDING    requester debited, checked beforehand
    PENDING  -> ACCEPTED   provider only, no balance effect
    PENDING  -> CANCELLED  requester or provider, requester refunded
    ACCEPTED -> CANCELLED  requester or provider, requester refunded
    ACCEPTED -> COMPLETED  requester only, provider credited
                           duration + bonus(rating), rating aggregated

  COMPLETED and CANCELLED are terminal. There is no PENDING -> COMPLETED.

CORRECTNESS CONTRACT:
  Every transition is a compare-and-swap on the session's previously read
  status. Balance and rating writes are CAS-guarded and carry an
  idempotency entry keyed by (session, effect kind), so each effect of a
  settlement lands exactly once: a replayed settlement finds the entry
  already recorded and skips the write. Two completions crediting the
  same provider never lose an update.

ORDER OF EFFECTS:
  1. session insert (or status CAS)   - the serialization point
  2. balance mutation                  - CAS + entry, bounded retry
  3. rating aggregate (credit first)   - a profile with hours credited but
                                         a stale rating is the lesser,
                                         repairable inconsistency
  4. settlement marker

  A failure after step 1 leaves either an orphaned PENDING session (voided,
  never debited, never refunded) or an unsettled terminal session that
  RecoverUnsettled re-settles. Re-settlement replays every effect; the
  entries make the replay idempotent, so a sweep racing the original
  settlement cannot double-credit. Settlement only moves hours for
  sessions whose debit entry exists: a voided session that slipped into a
  terminal state settles without minting anything. At no point can a
  debit become unrefundable.

SEE ALSO:
  - store.go: the CAS primitives this engine relies on
  - bonus.go: completion bonus tiers
  - api/scheduler.go: periodic RecoverUnsettled sweep
*/
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// defaultMaxRetries bounds CAS re-validation before surfacing
// ErrConcurrentModification to the caller.
const defaultMaxRetries = 3

// ratingScale is the number of decimal places kept in the rating aggregate.
const ratingScale = 2

// =============================================================================
// ENGINE
// =============================================================================

// Engine executes ledger operations against a Store. Safe for concurrent
// use: all shared state lives behind the store's CAS primitives.
type Engine struct {
	Store      Store
	Bonus      BonusPolicy
	MaxRetries int

	// Now is a clock hook for tests.
	Now func() time.Time
}

// NewEngine creates an engine with the given store and bonus policy.
func NewEngine(store Store, bonus BonusPolicy) *Engine {
	return &Engine{
		Store:      store,
		Bonus:      bonus,
		MaxRetries: defaultMaxRetries,
		Now:        time.Now,
	}
}

func (e *Engine) retries() int {
	if e.MaxRetries > 0 {
		return e.MaxRetries
	}
	return defaultMaxRetries
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NewID returns a fresh record id with the given prefix.
func NewID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf))
}

// =============================================================================
// SESSION CREATION
// =============================================================================

// RequestSessionInput describes a new exchange request. SkillName is a
// caller-side fallback; when the provider still offers the skill, the
// snapshot is taken from the provider's current skill list.
type RequestSessionInput struct {
	RequesterID ProfileID
	ProviderID  ProfileID
	SkillID     SkillID
	SkillName   string
	Duration    Hours
	ScheduledAt *time.Time
}

// RequestSession creates a PENDING session and debits the requester.
//
// The insufficient-balance pre-check runs before any write; the debit
// itself is a CAS, so two concurrent requests racing past a stale
// pre-check cannot overdraw the balance. The session row is inserted
// before the debit: if the debit then fails, the session is voided
// (CANCELLED and marked settled) rather than leaving hours in limbo.
func (e *Engine) RequestSession(ctx context.Context, in RequestSessionInput) (*Session, error) {
	if !in.Duration.IsPositive() {
		return nil, fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidRequest, in.Duration)
	}
	if in.RequesterID == in.ProviderID {
		return nil, fmt.Errorf("%w: requester and provider must differ", ErrInvalidRequest)
	}

	requester, err := e.Store.GetProfile(ctx, in.RequesterID)
	if err != nil {
		return nil, err
	}
	if requester.Balance.LessThan(in.Duration) {
		return nil, &InsufficientBalanceError{
			ProfileID: in.RequesterID,
			Available: requester.Balance,
			Requested: in.Duration,
		}
	}

	provider, err := e.Store.GetProfile(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}

	// Skill snapshot: prefer the provider's live skill name, fall back
	// to the caller-supplied one if the id is already gone.
	skillName := in.SkillName
	if skill, ok := provider.SkillByID(in.SkillID); ok {
		skillName = skill.Name
	} else if skillName == "" {
		return nil, fmt.Errorf("%w: %s on %s", ErrSkillNotFound, in.SkillID, in.ProviderID)
	}

	now := e.now()
	session := Session{
		ID:          SessionID(NewID("ses")),
		RequesterID: in.RequesterID,
		ProviderID:  in.ProviderID,
		SkillID:     in.SkillID,
		SkillName:   skillName,
		Duration:    in.Duration,
		Status:      SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: in.ScheduledAt,
	}

	if err := e.Store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := e.debit(ctx, in.RequesterID, in.Duration, e.sessionEntry(session.ID, in.RequesterID, EntryDebit, in.Duration)); err != nil {
		e.voidSession(ctx, session.ID)
		return nil, err
	}

	return &session, nil
}

// voidSession cancels a never-debited session and marks it settled so the
// recovery sweep will not "refund" hours that were never taken. Retries
// across states: if the provider accepted in the window, the void still
// lands from ACCEPTED. Best effort; settlement's debit-entry gate keeps
// even a surviving orphan from moving hours.
func (e *Engine) voidSession(ctx context.Context, id SessionID) {
	for attempt := 0; attempt < e.retries(); attempt++ {
		session, err := e.Store.GetSession(ctx, id)
		if err != nil {
			return
		}
		if session.Status.IsTerminal() {
			break
		}
		err = e.Store.SwapSessionStatus(ctx, id, session.Status, SessionCancelled, nil)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return
		}
		break
	}
	_ = e.Store.MarkSessionSettled(ctx, id, e.now())
}

// =============================================================================
// SESSION TRANSITIONS
// =============================================================================

// UpdateSessionStatus transitions a session and applies the resulting
// balance effects. rating is required for COMPLETED (1-5, half-steps
// allowed) and forbidden otherwise.
//
// On a lost CAS race the state is re-read and re-validated up to
// MaxRetries times; usually the race means the transition is no longer
// legal and the caller gets ErrInvalidTransition with the fresh state.
func (e *Engine) UpdateSessionStatus(ctx context.Context, id SessionID, actorID ProfileID, target SessionStatus, rating *decimal.Decimal, review string) (*Session, error) {
	switch target {
	case SessionAccepted, SessionCancelled, SessionCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown target status %q", ErrInvalidRequest, target)
	}

	var outcome *SessionOutcome
	if target == SessionCompleted {
		if rating == nil {
			return nil, fmt.Errorf("%w: completion requires a rating", ErrInvalidRequest)
		}
		if rating.LessThan(decimal.NewFromInt(1)) || rating.GreaterThan(decimal.NewFromInt(5)) {
			return nil, fmt.Errorf("%w: rating must be between 1 and 5, got %s", ErrInvalidRequest, rating)
		}
		outcome = &SessionOutcome{Rating: *rating, Review: review}
	} else if rating != nil {
		return nil, fmt.Errorf("%w: rating is only valid on completion", ErrInvalidRequest)
	}

	var settled Session
	swapped := false
	for attempt := 0; attempt < e.retries(); attempt++ {
		session, err := e.Store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := validateTransition(session, actorID, target); err != nil {
			return nil, err
		}

		err = e.Store.SwapSessionStatus(ctx, id, session.Status, target, outcome)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return nil, err
		}

		settled = *session
		settled.Status = target
		if outcome != nil {
			r := outcome.Rating
			settled.Rating = &r
			settled.Review = outcome.Review
		}
		swapped = true
		break
	}
	if !swapped {
		return nil, fmt.Errorf("session %s: %w", id, ErrConcurrentModification)
	}

	if target.IsTerminal() {
		if err := e.settle(ctx, &settled); err != nil {
			// The status change is committed; the sweep finishes the
			// balance half. Surface the failure so the caller knows the
			// view may lag.
			return &settled, err
		}
	}

	return e.Store.GetSession(ctx, id)
}

// validateTransition enforces the transition table and actor asymmetry.
func validateTransition(s *Session, actor ProfileID, target SessionStatus) error {
	fail := func(reason string) error {
		return &TransitionError{SessionID: s.ID, From: s.Status, To: target, Actor: actor, Reason: reason}
	}

	if s.Status.IsTerminal() {
		return fail("session is already " + string(s.Status))
	}

	switch target {
	case SessionAccepted:
		if s.Status != SessionPending {
			return fail("only a pending session can be accepted")
		}
		if actor != s.ProviderID {
			return fail("only the provider can accept")
		}
	case SessionCancelled:
		if actor != s.RequesterID && actor != s.ProviderID {
			return fail("only a participant can cancel")
		}
	case SessionCompleted:
		if s.Status != SessionAccepted {
			return fail("only an accepted session can be completed")
		}
		if actor != s.RequesterID {
			return fail("only the requester can confirm completion")
		}
	}
	return nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settle applies the balance effects of a terminal session and marks it
// settled. Called once by the winning transition, and again by the
// recovery sweep for sessions whose first settlement was interrupted.
// Each effect carries an idempotency entry, so a replay only applies the
// effects the first run did not finish.
//
// Sessions without a debit entry never moved hours out of the requester
// (a voided request), so they settle without refund or credit.
func (e *Engine) settle(ctx context.Context, s *Session) error {
	funded := true
	if _, err := e.Store.GetEntry(ctx, SessionEntryID(s.ID, EntryDebit)); err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			return fmt.Errorf("settle session %s: %w", s.ID, err)
		}
		funded = false
	}

	switch s.Status {
	case SessionCancelled:
		// Full refund of the original debit.
		if funded {
			if err := e.credit(ctx, s.RequesterID, s.Duration, e.sessionEntry(s.ID, s.RequesterID, EntryRefund, s.Duration)); err != nil {
				return fmt.Errorf("refund for session %s: %w", s.ID, err)
			}
		}
	case SessionCompleted:
		if funded {
			earned := s.Duration
			if s.Rating != nil {
				earned = earned.Add(e.Bonus.BonusFor(*s.Rating))
			}
			// Credit before rating: see package comment on ordering.
			if err := e.credit(ctx, s.ProviderID, earned, e.sessionEntry(s.ID, s.ProviderID, EntryCredit, earned)); err != nil {
				return fmt.Errorf("credit for session %s: %w", s.ID, err)
			}
			if s.Rating != nil {
				if err := e.recordRating(ctx, s.ID, s.ProviderID, *s.Rating); err != nil {
					return fmt.Errorf("rating for session %s: %w", s.ID, err)
				}
			}
		}
	default:
		return fmt.Errorf("session %s is not terminal (%s)", s.ID, s.Status)
	}

	return e.Store.MarkSessionSettled(ctx, s.ID, e.now())
}

// RecoverUnsettled re-settles terminal sessions whose balance effects did
// not complete. grace keeps the sweep away from settlements still in
// flight; it is measured from the terminal transition, so a long-lived
// session that just completed gets the full window before the sweep
// touches it. Returns the number of sessions settled.
func (e *Engine) RecoverUnsettled(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := e.now().Add(-grace)
	sessions, err := e.Store.ListUnsettledSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	settled := 0
	var errs error
	for i := range sessions {
		if err := e.settle(ctx, &sessions[i]); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		settled++
	}
	return settled, errs
}

// =============================================================================
// BALANCE PRIMITIVES
// =============================================================================

// sessionEntry builds the idempotency entry for one effect of a session.
func (e *Engine) sessionEntry(sessionID SessionID, profileID ProfileID, kind EntryKind, amount Hours) BalanceEntry {
	return BalanceEntry{
		ID:        SessionEntryID(sessionID, kind),
		SessionID: sessionID,
		ProfileID: profileID,
		Kind:      kind,
		Amount:    amount.Value,
		CreatedAt: e.now(),
	}
}

// debit removes hours from a profile, failing with InsufficientBalance if
// the current balance cannot cover the amount. Read-check-swap with
// bounded retry; the check always runs against the freshly read balance.
// A duplicate entry means this debit already landed, which is success.
func (e *Engine) debit(ctx context.Context, id ProfileID, amount Hours, entry BalanceEntry) error {
	for attempt := 0; attempt < e.retries(); attempt++ {
		profile, err := e.Store.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		if profile.Balance.LessThan(amount) {
			return &InsufficientBalanceError{
				ProfileID: id,
				Available: profile.Balance,
				Requested: amount,
			}
		}

		err = e.Store.SwapBalance(ctx, id, profile.Balance, profile.Balance.Sub(amount), entry)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		if errors.Is(err, ErrDuplicateRecord) {
			return nil
		}
		return err
	}
	return fmt.Errorf("debit %s from %s: %w", amount, id, ErrConcurrentModification)
}

// credit adds hours to a profile. Cannot fail on balance grounds, only on
// not-found or store failure. A duplicate entry means this credit already
// landed, which is success.
func (e *Engine) credit(ctx context.Context, id ProfileID, amount Hours, entry BalanceEntry) error {
	for attempt := 0; attempt < e.retries(); attempt++ {
		profile, err := e.Store.GetProfile(ctx, id)
		if err != nil {
			return err
		}

		err = e.Store.SwapBalance(ctx, id, profile.Balance, profile.Balance.Add(amount), entry)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		if errors.Is(err, ErrDuplicateRecord) {
			return nil
		}
		return err
	}
	return fmt.Errorf("credit %s to %s: %w", amount, id, ErrConcurrentModification)
}

// recordRating folds one rating into the cumulative average:
// newRating = (oldRating*oldCount + rating) / (oldCount+1), kept at two
// decimal places. The entry keys the fold to its session, so a replayed
// settlement cannot count the same review twice.
func (e *Engine) recordRating(ctx context.Context, sessionID SessionID, id ProfileID, rating decimal.Decimal) error {
	entry := BalanceEntry{
		ID:        SessionEntryID(sessionID, EntryRating),
		SessionID: sessionID,
		ProfileID: id,
		Kind:      EntryRating,
		Amount:    rating,
		CreatedAt: e.now(),
	}
	for attempt := 0; attempt < e.retries(); attempt++ {
		profile, err := e.Store.GetProfile(ctx, id)
		if err != nil {
			return err
		}

		oldCount := decimal.NewFromInt(int64(profile.ReviewCount))
		newCount := profile.ReviewCount + 1
		newRating := profile.Rating.Mul(oldCount).Add(rating).
			Div(decimal.NewFromInt(int64(newCount))).
			Round(ratingScale)

		err = e.Store.SwapRating(ctx, id, profile.ReviewCount, newRating, newCount, entry)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		if errors.Is(err, ErrDuplicateRecord) {
			return nil
		}
		return err
	}
	return fmt.Errorf("record rating for %s: %w", id, ErrConcurrentModification)
}

// =============================================================================
// PROFILE OPERATIONS & READ MODELS
// =============================================================================

// UpdateProfile applies a partial edit. Balance and the rating aggregate
// are not editable here; they only move through session settlement.
func (e *Engine) UpdateProfile(ctx context.Context, id ProfileID, update ProfileUpdate) (*Profile, error) {
	if update.Skills != nil {
		skills := *update.Skills
		for i := range skills {
			if skills[i].ID == "" {
				skills[i].ID = SkillID(NewID("skl"))
			}
		}
		update.Skills = &skills
	}
	return e.Store.UpdateProfileFields(ctx, id, update)
}

func (e *Engine) GetProfile(ctx context.Context, id ProfileID) (*Profile, error) {
	return e.Store.GetProfile(ctx, id)
}

func (e *Engine) ListProfiles(ctx context.Context) ([]Profile, error) {
	return e.Store.ListProfiles(ctx)
}

func (e *Engine) GetSession(ctx context.Context, id SessionID) (*Session, error) {
	return e.Store.GetSession(ctx, id)
}

func (e *Engine) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	return e.Store.ListSessions(ctx, filter)
}

func (e *Engine) ListInvitations(ctx context.Context, filter InvitationFilter) ([]Invitation, error) {
	return e.Store.ListInvitations(ctx, filter)
}
