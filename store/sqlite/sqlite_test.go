package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeshare/ledger-engine/ledger"
	"github.com/timeshare/ledger-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProfile(t *testing.T, s *sqlite.Store, id, email string, hours int) {
	t.Helper()
	err := s.CreateProfile(context.Background(), ledger.Profile{
		ID:      ledger.ProfileID(id),
		Name:    id,
		Email:   email,
		Balance: ledger.NewHoursFromInt(hours),
		Skills: []ledger.Skill{
			{ID: ledger.SkillID("skill-" + id), Name: "Gardening", Category: "Outdoors"},
		},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

// =============================================================================
// PROFILES
// =============================================================================

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)

	p, err := s.GetProfile(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", p.Email)
	assert.True(t, p.Balance.Equal(ledger.NewHoursFromInt(40)))
	require.Len(t, p.Skills, 1)
	assert.Equal(t, "Gardening", p.Skills[0].Name)
}

func TestFindProfileByContact_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "Alice@Example.COM", 40)

	p, err := s.FindProfileByContact(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProfileID("alice"), p.ID)
}

func TestCreateProfile_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)

	err := s.CreateProfile(context.Background(), ledger.Profile{
		ID:        "alice2",
		Name:      "Alice Again",
		Email:     "alice@example.com",
		Balance:   ledger.ZeroHours(),
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateRecord)
}

func TestUpdateProfileFields_PartialAndSkills(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)

	bio := "I grow tomatoes."
	skills := []ledger.Skill{
		{ID: "skl-1", Name: "Composting", Category: "Outdoors"},
		{ID: "skl-2", Name: "Pruning", Category: "Outdoors"},
	}
	p, err := s.UpdateProfileFields(context.Background(), "alice", ledger.ProfileUpdate{
		Bio:    &bio,
		Skills: &skills,
	})
	require.NoError(t, err)

	assert.Equal(t, "I grow tomatoes.", p.Bio)
	assert.Equal(t, "alice", p.Name) // untouched
	require.Len(t, p.Skills, 2)
	assert.Equal(t, "Composting", p.Skills[0].Name)
	assert.True(t, p.Balance.Equal(ledger.NewHoursFromInt(40)))
}

func testEntry(session string, kind ledger.EntryKind, profile string, amount float64) ledger.BalanceEntry {
	return ledger.BalanceEntry{
		ID:        ledger.SessionEntryID(ledger.SessionID(session), kind),
		SessionID: ledger.SessionID(session),
		ProfileID: ledger.ProfileID(profile),
		Kind:      kind,
		Amount:    decimal.NewFromFloat(amount),
		CreatedAt: time.Now(),
	}
}

func TestSwapBalance_CAS(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	ctx := context.Background()

	// Swap with the correct observed value succeeds
	err := s.SwapBalance(ctx, "alice", ledger.NewHoursFromInt(40), ledger.NewHoursFromInt(38),
		testEntry("ses-1", ledger.EntryDebit, "alice", 2))
	require.NoError(t, err)

	// A second swap against the stale observation loses the race, and its
	// entry rolls back with it
	err = s.SwapBalance(ctx, "alice", ledger.NewHoursFromInt(40), ledger.NewHoursFromInt(35),
		testEntry("ses-2", ledger.EntryDebit, "alice", 5))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	_, err = s.GetEntry(ctx, ledger.SessionEntryID("ses-2", ledger.EntryDebit))
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	// A swap on a missing profile is not-found, not a race
	err = s.SwapBalance(ctx, "nobody", ledger.NewHoursFromInt(40), ledger.NewHoursFromInt(38),
		testEntry("ses-3", ledger.EntryDebit, "nobody", 2))
	assert.ErrorIs(t, err, ledger.ErrProfileNotFound)

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(ledger.NewHoursFromInt(38)))
}

func TestSwapBalance_ReplayedEntry_WritesNothing(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	ctx := context.Background()

	entry := testEntry("ses-1", ledger.EntryCredit, "alice", 3)
	require.NoError(t, s.SwapBalance(ctx, "alice", ledger.NewHoursFromInt(40), ledger.NewHoursFromInt(43), entry))

	// A replay of the same effect, even against a fresh observation, is
	// rejected as already applied and moves no hours
	err := s.SwapBalance(ctx, "alice", ledger.NewHoursFromInt(43), ledger.NewHoursFromInt(46), entry)
	assert.ErrorIs(t, err, ledger.ErrDuplicateRecord)

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(ledger.NewHoursFromInt(43)))

	got, err := s.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryCredit, got.Kind)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(3)))
}

func TestSwapRating_CAS(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	ctx := context.Background()

	require.NoError(t, s.SwapRating(ctx, "alice", 0, decimal.NewFromFloat(4.5), 1,
		testEntry("ses-1", ledger.EntryRating, "alice", 4.5)))

	err := s.SwapRating(ctx, "alice", 0, decimal.NewFromInt(5), 1,
		testEntry("ses-2", ledger.EntryRating, "alice", 5))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// Replaying the first fold is a no-op
	err = s.SwapRating(ctx, "alice", 1, decimal.NewFromFloat(4.75), 2,
		testEntry("ses-1", ledger.EntryRating, "alice", 4.5))
	assert.ErrorIs(t, err, ledger.ErrDuplicateRecord)

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Rating.Equal(decimal.NewFromFloat(4.5)))
	assert.Equal(t, 1, p.ReviewCount)
}

// =============================================================================
// SESSIONS
// =============================================================================

func seedSession(t *testing.T, s *sqlite.Store, id string, status ledger.SessionStatus, createdAt time.Time) {
	t.Helper()
	err := s.CreateSession(context.Background(), ledger.Session{
		ID:          ledger.SessionID(id),
		RequesterID: "alice",
		ProviderID:  "bob",
		SkillID:     "skill-bob",
		SkillName:   "Gardening",
		Duration:    ledger.NewHoursFromInt(2),
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
	require.NoError(t, err)
}

func TestSessionStatusSwap_WithOutcome(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	seedProfile(t, s, "bob", "bob@example.com", 40)
	seedSession(t, s, "ses-1", ledger.SessionAccepted, time.Now())
	ctx := context.Background()

	rating := decimal.NewFromInt(5)
	err := s.SwapSessionStatus(ctx, "ses-1", ledger.SessionAccepted, ledger.SessionCompleted,
		&ledger.SessionOutcome{Rating: rating, Review: "Great help"})
	require.NoError(t, err)

	sess, err := s.GetSession(ctx, "ses-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.SessionCompleted, sess.Status)
	require.NotNil(t, sess.Rating)
	assert.True(t, sess.Rating.Equal(rating))
	assert.Equal(t, "Great help", sess.Review)

	// The same transition cannot happen twice
	err = s.SwapSessionStatus(ctx, "ses-1", ledger.SessionAccepted, ledger.SessionCompleted, nil)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestMarkSessionSettled_Idempotent(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	seedProfile(t, s, "bob", "bob@example.com", 40)
	seedSession(t, s, "ses-1", ledger.SessionCancelled, time.Now())
	ctx := context.Background()

	first := time.Now()
	require.NoError(t, s.MarkSessionSettled(ctx, "ses-1", first))
	require.NoError(t, s.MarkSessionSettled(ctx, "ses-1", first.Add(time.Hour)))

	sess, err := s.GetSession(ctx, "ses-1")
	require.NoError(t, err)
	require.NotNil(t, sess.SettledAt)
	assert.Equal(t, first.UnixMilli(), sess.SettledAt.UnixMilli())

	assert.ErrorIs(t, s.MarkSessionSettled(ctx, "nobody", first), ledger.ErrSessionNotFound)
}

func TestListUnsettledSessions_HonorsCutoff(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	seedProfile(t, s, "bob", "bob@example.com", 40)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	seedSession(t, s, "ses-old", ledger.SessionCompleted, old)
	seedSession(t, s, "ses-new", ledger.SessionCancelled, time.Now())
	seedSession(t, s, "ses-pending", ledger.SessionPending, old)
	seedSession(t, s, "ses-settled", ledger.SessionCompleted, old)
	require.NoError(t, s.MarkSessionSettled(ctx, "ses-settled", time.Now()))

	// An old session that just went terminal is measured from the
	// transition, not from creation
	seedSession(t, s, "ses-fresh", ledger.SessionAccepted, old)
	require.NoError(t, s.SwapSessionStatus(ctx, "ses-fresh", ledger.SessionAccepted, ledger.SessionCompleted,
		&ledger.SessionOutcome{Rating: decimal.NewFromInt(5)}))

	unsettled, err := s.ListUnsettledSessions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, ledger.SessionID("ses-old"), unsettled[0].ID)
}

func TestListSessions_Filters(t *testing.T) {
	s := newTestStore(t)
	seedProfile(t, s, "alice", "alice@example.com", 40)
	seedProfile(t, s, "bob", "bob@example.com", 40)
	ctx := context.Background()

	seedSession(t, s, "ses-1", ledger.SessionPending, time.Now().Add(-time.Minute))
	seedSession(t, s, "ses-2", ledger.SessionAccepted, time.Now())

	status := ledger.SessionAccepted
	sessions, err := s.ListSessions(ctx, ledger.SessionFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, ledger.SessionID("ses-2"), sessions[0].ID)

	participant := ledger.ProfileID("alice")
	sessions, err = s.ListSessions(ctx, ledger.SessionFilter{Participant: &participant})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

// =============================================================================
// INVITATIONS
// =============================================================================

func TestInvitationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInvitation(ctx, ledger.Invitation{
		ID:        "inv-1",
		Contact:   "Bob@Example.com",
		InvitedBy: "alice",
		Status:    ledger.InvitationPending,
		CreatedAt: time.Now(),
	}))

	inv, err := s.FindPendingInvitation(ctx, "bob@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvitationID("inv-1"), inv.ID)

	require.NoError(t, s.SwapInvitationStatus(ctx, "inv-1", ledger.InvitationPending, ledger.InvitationAccepted))

	// No longer pending
	_, err = s.FindPendingInvitation(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ledger.ErrInvitationNotFound)

	// A stale swap loses the race
	err = s.SwapInvitationStatus(ctx, "inv-1", ledger.InvitationPending, ledger.InvitationCancelled)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}
