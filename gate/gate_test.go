package gate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeshare/ledger-engine/gate"
	"github.com/timeshare/ledger-engine/ledger"
	"github.com/timeshare/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestGate(t *testing.T) (*gate.Gate, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	err := mem.CreateProfile(context.Background(), ledger.Profile{
		ID:        "admin",
		Name:      "Alex Admin",
		Email:     "admin@timeshare.test",
		Balance:   ledger.NewHoursFromInt(40),
		IsAdmin:   true,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return gate.NewGate(mem), mem
}

func invite(t *testing.T, g *gate.Gate, inviter, contact string) *ledger.Invitation {
	t.Helper()
	inv, err := g.Invite(context.Background(), ledger.ProfileID(inviter), contact)
	require.NoError(t, err)
	return inv
}

// =============================================================================
// ACCESS CHECK
// =============================================================================

func TestCheckAccess_UnknownContact_Denied(t *testing.T) {
	g, _ := newTestGate(t)

	res, err := g.CheckAccess(context.Background(), "stranger@example.com")
	require.NoError(t, err)
	assert.Equal(t, gate.AccessDenied, res.Status)
	assert.Nil(t, res.Profile)
}

func TestCheckAccess_PendingInvitation_Invited(t *testing.T) {
	g, _ := newTestGate(t)
	invite(t, g, "admin", "guest@example.com")

	res, err := g.CheckAccess(context.Background(), "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, gate.AccessInvited, res.Status)
	require.NotNil(t, res.Invitation)
	assert.Equal(t, ledger.InvitationPending, res.Invitation.Status)
}

func TestCheckAccess_ExistingProfile_CaseInsensitive(t *testing.T) {
	g, _ := newTestGate(t)

	res, err := g.CheckAccess(context.Background(), "Admin@TimeShare.Test")
	require.NoError(t, err)
	assert.Equal(t, gate.AccessExisting, res.Status)
	require.NotNil(t, res.Profile)
	assert.Equal(t, ledger.ProfileID("admin"), res.Profile.ID)
}

// =============================================================================
// SIGN-UP
// =============================================================================

func TestSignUp_CreatesProfileWithInitialGrant(t *testing.T) {
	// GIVEN: a pending invitation
	// WHEN: the contact signs up
	// THEN: profile seeded with 40h and an avatar, invitation accepted

	g, mem := newTestGate(t)
	inv := invite(t, g, "admin", "guest@example.com")

	p, err := g.SignUp(context.Background(), "Guest@Example.com", gate.SignUpInput{
		Name: "Grace Guest",
		Bio:  "Here to trade hours.",
	})
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", p.Email)
	assert.True(t, ledger.NewHoursFromInt(40).Equal(p.Balance))
	assert.NotEmpty(t, p.Avatar)
	assert.Zero(t, p.ReviewCount)

	got, err := mem.GetInvitation(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvitationAccepted, got.Status)
}

func TestSignUp_WithoutInvitation_Denied(t *testing.T) {
	g, mem := newTestGate(t)

	_, err := g.SignUp(context.Background(), "stranger@example.com", gate.SignUpInput{Name: "S"})
	require.ErrorIs(t, err, ledger.ErrDenied)

	profiles, err := mem.ListProfiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, profiles, 1) // admin only
}

func TestSignUp_InvitationCancelledConcurrently_FailsWithoutOrphan(t *testing.T) {
	// GIVEN: the invitation is cancelled between CheckAccess and SignUp
	// WHEN: signing up
	// THEN: denied, and no profile is left behind

	g, mem := newTestGate(t)
	inv := invite(t, g, "admin", "guest@example.com")

	require.NoError(t, g.CancelInvite(context.Background(), inv.ID, "admin", true))

	_, err := g.SignUp(context.Background(), "guest@example.com", gate.SignUpInput{Name: "Grace"})
	require.ErrorIs(t, err, ledger.ErrDenied)

	profiles, err := mem.ListProfiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestSignUp_ExistingMember_Denied(t *testing.T) {
	g, _ := newTestGate(t)

	_, err := g.SignUp(context.Background(), "admin@timeshare.test", gate.SignUpInput{Name: "Imposter"})
	require.ErrorIs(t, err, ledger.ErrDenied)
}

// =============================================================================
// INVITATIONS
// =============================================================================

func TestInvite_DeduplicatesPendingInvitations(t *testing.T) {
	g, mem := newTestGate(t)

	first := invite(t, g, "admin", "guest@example.com")
	second := invite(t, g, "admin", "GUEST@example.com")
	assert.Equal(t, first.ID, second.ID)

	invs, err := mem.ListInvitations(context.Background(), ledger.InvitationFilter{})
	require.NoError(t, err)
	assert.Len(t, invs, 1)
}

func TestInvite_UnknownInviter_Rejected(t *testing.T) {
	g, _ := newTestGate(t)

	_, err := g.Invite(context.Background(), "ghost", "guest@example.com")
	require.ErrorIs(t, err, ledger.ErrProfileNotFound)
}

func TestCancelInvite_OnlyInviterOrAdmin(t *testing.T) {
	g, mem := newTestGate(t)
	err := mem.CreateProfile(context.Background(), ledger.Profile{
		ID:      "member",
		Name:    "Plain Member",
		Email:   "member@example.com",
		Balance: ledger.NewHoursFromInt(40),
	})
	require.NoError(t, err)

	inv := invite(t, g, "admin", "guest@example.com")

	err = g.CancelInvite(context.Background(), inv.ID, "member", false)
	require.ErrorIs(t, err, ledger.ErrDenied)

	err = g.CancelInvite(context.Background(), inv.ID, "admin", false)
	require.NoError(t, err)

	got, err := mem.GetInvitation(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvitationCancelled, got.Status)
}

func TestCancelInvite_SettledInvitation_IsInvalidTransition(t *testing.T) {
	g, _ := newTestGate(t)
	inv := invite(t, g, "admin", "guest@example.com")

	_, err := g.SignUp(context.Background(), "guest@example.com", gate.SignUpInput{Name: "Grace"})
	require.NoError(t, err)

	err = g.CancelInvite(context.Background(), inv.ID, "admin", true)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
}
